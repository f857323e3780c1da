// Command cloudsync manages the BibleMarker iCloud container, its sync
// folder and the device-local database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/biblemarker/cloudsync/internal/app"
	"github.com/biblemarker/cloudsync/internal/config"
	"github.com/biblemarker/cloudsync/internal/logging"
	"github.com/biblemarker/cloudsync/internal/ui"
)

var (
	v       *viper.Viper
	cfg     *config.Config
	logger  *logging.Logger
	service *app.Service
)

var rootCmd = &cobra.Command{
	Use:   "cloudsync",
	Short: "iCloud container, sync folder and local database tools for BibleMarker",
	Long: `cloudsync locates the BibleMarker iCloud container, reads and writes the
sync folder inside it, and manages the device-local SQLite database, including
the one-time migration of a legacy database out of the container.

Configuration is read from cloudsync.yaml (or .toml) in the user config
directory, CLOUDSYNC_* environment variables and flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "cloud", Title: "iCloud:"},
		&cobra.Group{ID: "db", Title: "Local database:"},
		&cobra.Group{ID: "host", Title: "Host integration:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to a config file (default: <user config dir>/cloudsync/cloudsync.yaml)")
	flags.StringP("format", "f", "text", "output format: text, json or yaml")
	flags.String("data-dir", "", "local application data directory")
	flags.String("container-id", "", "iCloud container identifier")
	flags.Duration("timeout", 0, "bound on container resolution")
	flags.String("log-level", "", "log level: error, warn, info, debug")
	flags.String("provider", "", "container provider: exec or static")
}

// setup loads configuration and wires the service. Flags bind over the
// defaults, env and config file.
func setup() error {
	flags := rootCmd.PersistentFlags()
	file, _ := flags.GetString("config")

	v = config.New(file)
	bindings := map[string]string{
		"data_dir":        "data-dir",
		"container_id":    "container-id",
		"resolve_timeout": "timeout",
		"log.level":       "log-level",
		"provider.kind":   "provider",
	}
	for key, flag := range bindings {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			_ = v.BindPFlag(key, f)
		}
	}

	if err := config.ReadFile(v); err != nil {
		return err
	}

	var err error
	cfg, err = config.Load(v)
	if err != nil {
		return err
	}

	logger = cfg.Logger()
	service = app.FromConfig(cfg, logger.Logger)
	ui.Setup(os.Stdout)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
