package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/biblemarker/cloudsync/internal/localdb"
	"github.com/biblemarker/cloudsync/internal/ui"
)

var dbCmd = &cobra.Command{
	Use:     "db",
	GroupID: "db",
	Short:   "Manage the device-local database",
	Long: `Manage the device-local SQLite database.

The live database is kept in the application data directory, never in the
iCloud container: the cloud daemon syncs the -wal and -shm side files
separately from the database file, which corrupts it.`,
}

var dbPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the local and legacy database paths",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := map[string]string{"local": service.LocalDatabasePath()}
		legacy, err := service.LegacyDatabasePath(context.Background())
		if err != nil {
			out["legacy_error"] = err.Error()
		} else {
			out["legacy"] = legacy
		}
		if emit(out) {
			return
		}
		fmt.Println(ui.RenderField("Local", out["local"]))
		if legacy != "" {
			fmt.Println(ui.RenderField("Legacy (iCloud)", legacy))
		} else {
			fmt.Println(ui.RenderField("Legacy (iCloud)", ui.RenderMuted(out["legacy_error"])))
		}
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move a legacy database out of the iCloud container",
	Long: `Copy the legacy database from <container>/Documents into the local data
directory, then verify it.

Safe to run repeatedly: an existing non-empty local database is never
overwritten, and the legacy file is never modified. If the copy fails its
integrity check it is removed so a fresh database is created on next launch.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		res := service.MigrateLegacyDatabase(context.Background())
		if emit(res) {
			return
		}
		switch {
		case res.Migrated:
			fmt.Printf("%s %s\n", ui.RenderPass("✓"), res.Message)
		case res.Outcome == "failed_corrupt" || res.Outcome == "failed_io":
			fmt.Printf("%s %s\n", ui.RenderFail("✗"), res.Message)
		default:
			fmt.Printf("%s %s\n", ui.RenderMuted("-"), res.Message)
		}
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the local database and its side files",
	Long: `Delete <app>.db, <app>.db-wal and <app>.db-shm from the data directory so
the application creates a fresh database. The iCloud container is not touched.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		local := service.LocalDatabase()

		if !yes {
			if !ui.IsTerminal(os.Stdin) {
				fail(errors.New("refusing to delete without confirmation; pass --yes"))
			}
			confirmed := false
			err := huh.NewConfirm().
				Title("Delete the local database?").
				Description(local.Primary + "\nThis cannot be undone.").
				Affirmative("Delete").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil {
				fail(err)
			}
			if !confirmed {
				fmt.Println("Cancelled")
				return
			}
		}

		conf, err := service.DeleteLocalDatabase()
		if err != nil {
			fail(err)
		}
		if emit(conf) {
			return
		}
		fmt.Printf("%s %s\n", ui.RenderPass("✓"), conf.Message())
		for _, p := range conf.Removed {
			fmt.Println(ui.RenderField("Removed", p))
		}
	},
}

var dbCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Run an integrity check on a database (default: the local database)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		path := service.LocalDatabasePath()
		if len(args) == 1 {
			path = args[0]
		}

		result, err := checkDatabase(ctx, path)
		if err != nil {
			fail(err)
		}
		info := result.Info

		if !emit(result) {
			if result.OK {
				fmt.Printf("%s %s is consistent\n", ui.RenderPass("✓"), path)
			} else {
				fmt.Printf("%s %s\n", ui.RenderFail("✗"), result.Error)
			}
			if result.inspected {
				fmt.Println(ui.RenderField("Size", humanize.IBytes(uint64(info.Size))))
				fmt.Println(ui.RenderField("Pages", fmt.Sprintf("%d x %s", info.PageCount, humanize.IBytes(uint64(info.PageSize)))))
				fmt.Println(ui.RenderField("Journal", info.JournalMode))
				fmt.Println(ui.RenderField("Tables", fmt.Sprint(info.Tables)))
			}
		}
		if !result.OK {
			os.Exit(1)
		}
	},
}

// checkReport is the output of db check.
type checkReport struct {
	localdb.Info `yaml:",inline"`
	OK           bool   `json:"ok" yaml:"ok"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`

	inspected bool
}

// checkDatabase runs the integrity check before Inspect so a file too
// damaged to inspect still gets a verdict. The error is only set when the
// check passed but the file could not be inspected.
func checkDatabase(ctx context.Context, path string) (checkReport, error) {
	report := checkReport{Info: localdb.Info{Path: path}}

	checkErr := localdb.Check(ctx, path)
	report.OK = checkErr == nil
	if checkErr != nil {
		report.Error = checkErr.Error()
	}

	info, err := localdb.Inspect(ctx, path)
	report.Info = info
	if err != nil {
		if report.OK {
			return report, err
		}
		return report, nil
	}
	report.inspected = true
	return report, nil
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the local database if it does not exist",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path, err := service.InitLocalDatabase()
		if err != nil {
			fail(err)
		}
		if emit(map[string]string{"path": path}) {
			return
		}
		fmt.Printf("%s Local database ready at %s\n", ui.RenderPass("✓"), path)
	},
}

func init() {
	dbResetCmd.Flags().BoolP("yes", "y", false, "delete without asking")

	dbCmd.AddCommand(dbPathCmd, dbMigrateCmd, dbResetCmd, dbCheckCmd, dbInitCmd)
	rootCmd.AddCommand(dbCmd)
}
