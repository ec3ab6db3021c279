package service

import "fmt"

// Role identifies a capability a service provides to the rest of the node.
// Other services declare dependencies on roles, not on concrete service
// names, so any running service advertising the role satisfies them.
type Role int

const (
	// RoleTransientNFS is NFS-exported transient storage backed by the
	// node's ephemeral disk.
	RoleTransientNFS Role = iota
	// RoleClusterManager is the cluster management application other
	// applications are typically gated on.
	RoleClusterManager
	// RoleJobManager is the batch job manager.
	RoleJobManager
	// RoleWebApp is a generic externally distributed web application.
	RoleWebApp
)

// String returns the configuration name of the role.
func (r Role) String() string {
	switch r {
	case RoleTransientNFS:
		return "transient_nfs"
	case RoleClusterManager:
		return "cluster_manager"
	case RoleJobManager:
		return "job_manager"
	case RoleWebApp:
		return "web_app"
	default:
		return "unknown"
	}
}

// ParseRole converts a configuration name into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "transient_nfs":
		return RoleTransientNFS, nil
	case "cluster_manager":
		return RoleClusterManager, nil
	case "job_manager":
		return RoleJobManager, nil
	case "web_app":
		return RoleWebApp, nil
	default:
		return 0, fmt.Errorf("unknown service role %q", s)
	}
}
