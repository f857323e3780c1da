package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/biblemarker/cloudsync/internal/cloud/syncdir"
	"github.com/biblemarker/cloudsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "cloud",
	Short:   "Work with the sync folder inside the iCloud container",
	Long: `Work with the sync folder, <container>/Documents/sync.

Paths given to write and cat must lie inside the iCloud container; relative
paths are taken relative to the sync folder.`,
}

// syncPath resolves a user-supplied path against the sync folder.
func syncPath(ctx context.Context, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	dir, err := service.SyncFolderPath(ctx)
	if err != nil {
		fail(err)
	}
	return filepath.Join(dir, p)
}

var syncPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the sync folder path, creating it if needed",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		dir, err := service.SyncFolderPath(context.Background())
		if err != nil {
			fail(err)
		}
		if emit(map[string]string{"path": dir}) {
			return
		}
		fmt.Println(dir)
	},
}

var syncWriteCmd = &cobra.Command{
	Use:   "write <path> [file]",
	Short: "Write a file into the sync folder from a local file or stdin",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		target := syncPath(ctx, args[0])

		var (
			data []byte
			err  error
		)
		if len(args) == 2 && args[1] != "-" {
			data, err = os.ReadFile(args[1])
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			fail(fmt.Errorf("failed to read input: %w", err))
		}

		if err := service.WriteSyncFile(target, data); err != nil {
			fail(err)
		}
		if emit(map[string]any{"path": target, "bytes": len(data)}) {
			return
		}
		fmt.Printf("%s Wrote %s to %s\n", ui.RenderPass("✓"), humanize.IBytes(uint64(len(data))), target)
	},
}

var syncCatCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file from the sync folder",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := service.ReadSyncFile(syncPath(context.Background(), args[0]))
		if err != nil {
			fail(err)
		}
		_, _ = os.Stdout.Write(data)
	},
}

var syncLsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory (default: the sync folder)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		var dir string
		if len(args) == 1 {
			dir = syncPath(ctx, args[0])
		} else {
			var err error
			if dir, err = service.SyncFolderPath(ctx); err != nil {
				fail(err)
			}
		}

		listing := service.ListSyncDir(dir)
		if emit(listing) {
			return
		}

		if !listing.Exists {
			fmt.Printf("%s %s does not exist\n", ui.RenderWarn("⚠"), listing.Path)
			return
		}
		if len(listing.Entries) == 0 {
			fmt.Println(ui.RenderMuted("(empty)"))
		}
		for _, e := range listing.Entries {
			if e.Dir {
				fmt.Println(ui.RenderAccent(e.Name + "/"))
			} else {
				fmt.Println(e.Name)
			}
		}
		if listing.Error != "" {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("Warning:"), listing.Error)
		}
	},
}

var syncProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Write, read back and remove a test file in the sync folder",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		res, err := service.TestWrite(context.Background())
		if err != nil {
			fail(err)
		}
		if emit(res) {
			return
		}
		fmt.Printf("%s Test write succeeded in %v\n", ui.RenderPass("✓"), res.Elapsed.Round(time.Millisecond))
		fmt.Println(ui.RenderField("Folder", filepath.Dir(res.Path)))
		fmt.Println(ui.RenderField("Bytes", fmt.Sprint(res.Bytes)))
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync folder state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		st := service.SyncStatus(context.Background())
		if emit(st) {
			return
		}
		fmt.Printf("State: %s\n", renderState(st.State))
		if st.LastSync != nil {
			fmt.Printf("Last change: %s\n", humanize.Time(*st.LastSync))
		}
		fmt.Printf("Pending changes: %d\n", st.PendingChanges)
		if st.Error != "" {
			fmt.Printf("Error: %s\n", st.Error)
		}
	},
}

var syncWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print changes in the sync folder as they happen",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		dir, err := service.SyncFolderPath(ctx)
		if err != nil {
			fail(err)
		}

		watcher, err := syncdir.NewWatcher(cfg.Watch.Debounce)
		if err != nil {
			fail(err)
		}
		if err := watcher.Start(dir); err != nil {
			fail(err)
		}
		defer watcher.Stop()

		if outputFormat() == "text" {
			fmt.Printf("%s Watching %s\n", ui.RenderAccent("👁"), dir)
			fmt.Println("Press Ctrl+C to stop...")
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-watcher.Events():
				if !ok {
					return
				}
				if emit(e) {
					continue
				}
				fmt.Printf("%s %-6s %s\n", ui.RenderMuted(time.Now().Format("15:04:05")), renderOp(e.Op), e.Rel)
			case err, ok := <-watcher.Errors():
				if !ok {
					return
				}
				logger.Warn("watcher error", "error", err)
			}
		}
	},
}

func renderOp(op syncdir.EventOp) string {
	switch op {
	case syncdir.OpCreate:
		return ui.RenderPass(op.String())
	case syncdir.OpDelete:
		return ui.RenderFail(op.String())
	default:
		return ui.RenderAccent(op.String())
	}
}

func init() {
	syncCmd.AddCommand(syncPathCmd, syncWriteCmd, syncCatCmd, syncLsCmd, syncProbeCmd, syncStatusCmd, syncWatchCmd)
	rootCmd.AddCommand(syncCmd)
}
