package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService is a minimal Service for registry tests.
type stubService struct {
	name  string
	roles []Role
	deps  []Dependency
	state State
}

func (s *stubService) Name() string               { return s.name }
func (s *stubService) Roles() []Role              { return s.roles }
func (s *stubService) Dependencies() []Dependency { return s.deps }
func (s *stubService) State() State               { return s.state }
func (s *stubService) Start(context.Context) error {
	s.state = StateRunning
	return nil
}
func (s *stubService) Remove(context.Context) error {
	s.state = StateShutDown
	return nil
}
func (s *stubService) Status(context.Context) {}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(&stubService{name: "galaxyData"}))
	assert.Equal(t, 1, r.Count())

	svc, err := r.Get("galaxyData")
	require.NoError(t, err)
	assert.Equal(t, "galaxyData", svc.Name())
}

func TestRegistryRejectsNilAndDuplicates(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&stubService{name: ""}))

	require.NoError(t, r.Register(&stubService{name: "galaxy"}))
	assert.Error(t, r.Register(&stubService{name: "galaxy"}))
	assert.Equal(t, 1, r.Count())
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	assert.Error(t, err)
}

func TestRegistryListPreservesOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"galaxyData", "galaxyIndices", "galaxy"} {
		require.NoError(t, r.Register(&stubService{name: name}))
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "galaxyData", list[0].Name())
	assert.Equal(t, "galaxyIndices", list[1].Name())
	assert.Equal(t, "galaxy", list[2].Name())
}

func TestRegistryFindByRole(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubService{name: "galaxyData", roles: []Role{RoleTransientNFS}}))
	require.NoError(t, r.Register(&stubService{name: "galaxy", roles: []Role{RoleWebApp}}))

	found := r.FindByRole(RoleTransientNFS)
	require.Len(t, found, 1)
	assert.Equal(t, "galaxyData", found[0].Name())

	assert.Empty(t, r.FindByRole(RoleJobManager))
}

func TestRegistrySatisfiedRequiresRunning(t *testing.T) {
	r := NewRegistry()
	fs := &stubService{name: "galaxyData", roles: []Role{RoleTransientNFS}}
	require.NoError(t, r.Register(fs))

	assert.False(t, r.Satisfied(RoleTransientNFS))

	fs.state = StateRunning
	assert.True(t, r.Satisfied(RoleTransientNFS))
}

func TestRegistryCanStart(t *testing.T) {
	r := NewRegistry()
	fs := &stubService{name: "galaxyData", roles: []Role{RoleTransientNFS}}
	app := &stubService{
		name: "galaxy",
		deps: []Dependency{{Owner: "galaxy", Requires: RoleTransientNFS}},
	}
	require.NoError(t, r.Register(fs))
	require.NoError(t, r.Register(app))

	err := r.CanStart(app)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDependencyNotRunning))
	assert.Contains(t, err.Error(), "galaxy requires transient_nfs")

	fs.state = StateRunning
	assert.NoError(t, r.CanStart(app))
}

func TestRegistryCanStartNoDependencies(t *testing.T) {
	r := NewRegistry()
	fs := &stubService{name: "galaxyData"}
	require.NoError(t, r.Register(fs))
	assert.NoError(t, r.CanStart(fs))
}
