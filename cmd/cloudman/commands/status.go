package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/supernifty/cloudman/internal/cli/output"
	"github.com/supernifty/cloudman/pkg/api/handlers"
)

var (
	statusOutput  string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show managed service status",
	Long: `Display the state of every service managed by the running node
manager, as reported by its REST API.

Examples:
  # Show service status (uses default API port)
  cloudman status

  # Check status with custom API port
  cloudman status --api-port 9080

  # Output as JSON
  cloudman status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 8080, "API server port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	infos, err := fetchServices(statusAPIPort)
	if err != nil {
		return fmt.Errorf("node manager not reachable on port %d: %w", statusAPIPort, err)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, infos)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, infos)
	default:
		table := output.NewTableData("NAME", "STATE", "ROLES", "DEPENDS ON", "LAST ERROR")
		for _, info := range infos {
			table.AddRow(
				info.Name,
				info.State,
				strings.Join(info.Roles, ","),
				strings.Join(info.DependsOn, ","),
				info.LastError,
			)
		}
		return output.PrintTable(os.Stdout, table)
	}
}

// fetchServices pulls the service inventory from the local API server.
func fetchServices(port int) ([]handlers.ServiceInfo, error) {
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/services", port))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var envelope handlers.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("invalid API response: %w", err)
	}

	payload, err := json.Marshal(envelope.Data)
	if err != nil {
		return nil, err
	}
	var infos []handlers.ServiceInfo
	if err := json.Unmarshal(payload, &infos); err != nil {
		return nil, fmt.Errorf("invalid service list: %w", err)
	}
	return infos, nil
}
