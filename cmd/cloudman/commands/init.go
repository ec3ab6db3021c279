package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/supernifty/cloudman/internal/bytesize"
	"github.com/supernifty/cloudman/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample CloudMan configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/cloudman/config.yaml. Use --config to specify a custom
path.

Examples:
  # Initialize with default location
  cloudman init

  # Initialize with custom path
  cloudman init --config /etc/cloudman/config.yaml

  # Force overwrite existing config
  cloudman init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := sampleConfig()
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to describe your filesystems and applications")
	fmt.Println("  2. Start the node manager with: cloudman start")
	fmt.Printf("  3. Or specify custom config: cloudman start --config %s\n", configPath)

	return nil
}

// sampleConfig extends the defaults with one commented-out-style example
// of each managed service so the generated file shows the full shape.
func sampleConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.API.Enabled = true
	cfg.Metrics.Enabled = true

	minFree, _ := bytesize.Parse("1Gi")
	cfg.Filesystems = []config.FilesystemConfig{
		{
			Name:       "galaxyData",
			MountPoint: "/mnt/galaxyData",
			Owner:      "galaxy",
			Device:     "/dev/xvdb",
			Archive: &config.ArchiveConfig{
				URL: "https://example.org/snapshots/galaxyData-latest.tar.gz",
			},
			MinFreeSpace: minFree,
		},
	}
	cfg.Applications = []config.AppConfig{
		{
			Name:      "galaxy",
			User:      "galaxy",
			BaseDir:   "/mnt/galaxyTools/galaxy",
			Port:      8085,
			DataDirs:  []string{"/mnt/galaxyData/files"},
			Roles:     []string{"web_app"},
			DependsOn: []string{"transient_nfs"},
		},
	}
	return cfg
}
