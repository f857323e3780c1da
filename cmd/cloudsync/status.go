package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/biblemarker/cloudsync/internal/app"
	"github.com/biblemarker/cloudsync/internal/ui"
)

type statusReport struct {
	ICloud        app.Status     `json:"icloud" yaml:"icloud"`
	Sync          app.SyncStatus `json:"sync" yaml:"sync"`
	LocalDatabase localDBReport  `json:"local_database" yaml:"local_database"`
	Platform      string         `json:"platform" yaml:"platform"`
	WriteStrategy string         `json:"write_strategy" yaml:"write_strategy"`
}

type localDBReport struct {
	Path   string `json:"path" yaml:"path"`
	Exists bool   `json:"exists" yaml:"exists"`
	Size   int64  `json:"size" yaml:"size"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "cloud",
	Short:   "Show iCloud availability, sync folder state and local database",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		platform := cfg.ResolvedPlatform()

		report := statusReport{
			ICloud:        service.CheckAvailability(ctx),
			Sync:          service.SyncStatus(ctx),
			Platform:      platform.Name,
			WriteStrategy: platform.Strategy.String(),
		}

		local := service.LocalDatabase()
		size, exists, err := local.PrimarySize()
		if err != nil {
			fail(err)
		}
		report.LocalDatabase = localDBReport{Path: local.Primary, Exists: exists, Size: size}

		if emit(report) {
			return
		}

		fmt.Println()
		if report.ICloud.Available {
			fmt.Printf("%s iCloud available\n", ui.RenderPass("✓"))
			fmt.Println(ui.RenderField("Container", report.ICloud.ContainerPath))
		} else {
			fmt.Printf("%s iCloud unavailable\n", ui.RenderWarn("⚠"))
			fmt.Println(ui.RenderField("Reason", report.ICloud.Error))
		}
		fmt.Println(ui.RenderField("Platform", fmt.Sprintf("%s (%s writes)", report.Platform, report.WriteStrategy)))

		fmt.Println()
		fmt.Printf("%s Sync folder: %s\n", ui.RenderAccent("↻"), renderState(report.Sync.State))
		if report.Sync.LastSync != nil {
			fmt.Println(ui.RenderField("Last change", humanize.Time(*report.Sync.LastSync)))
		}
		if report.Sync.PendingChanges > 0 {
			fmt.Println(ui.RenderField("Pending", fmt.Sprintf("%d staged writes", report.Sync.PendingChanges)))
		}
		if report.Sync.Error != "" && report.ICloud.Available {
			fmt.Println(ui.RenderField("Error", report.Sync.Error))
		}

		fmt.Println()
		if exists && size > 0 {
			fmt.Printf("%s Local database\n", ui.RenderPass("✓"))
			fmt.Println(ui.RenderField("Path", local.Primary))
			fmt.Println(ui.RenderField("Size", humanize.IBytes(uint64(size))))
		} else {
			fmt.Printf("%s No local database\n", ui.RenderWarn("⚠"))
			fmt.Println(ui.RenderField("Path", local.Primary))
		}

		if a, ok, err := service.LastMigration(); err == nil && ok {
			fmt.Println(ui.RenderField("Migration", fmt.Sprintf("%s (%s)", a.Outcome, humanize.Time(a.At.In(time.Local)))))
		}
		fmt.Println()
	},
}

func renderState(s app.SyncState) string {
	switch s {
	case app.StateSynced:
		return ui.RenderPass(string(s))
	case app.StateSyncing, app.StateOffline:
		return ui.RenderWarn(string(s))
	case app.StateUnavailable:
		return ui.RenderMuted(string(s))
	default:
		return ui.RenderFail(string(s))
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
