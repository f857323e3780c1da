package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/biblemarker/cloudsync/internal/bridge"
	"github.com/biblemarker/cloudsync/internal/cloud/syncdir"
	"github.com/biblemarker/cloudsync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "host",
	Short:   "Serve cloudsync operations to the app shell over WebSocket",
	Long: `Start the host bridge: a local WebSocket server the application shell uses to
call cloudsync operations.

Requests are JSON frames {"id","cmd","args"} answered with
{"id","ok","result","error"}. Commands:

  check_icloud_status        get_sync_folder_path    write_sync_file
  list_sync_dir              migrate_legacy_database delete_local_database
  get_sync_status            test_icloud_write       get_icloud_database_path

With --watch, changes in the sync folder are pushed as sync_event messages.

Example usage:
  cloudsync serve                        # Listen on bridge.addr (127.0.0.1:7777)
  cloudsync serve --addr 127.0.0.1:9000  # Custom address`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Bridge.Addr
		}
		watch, _ := cmd.Flags().GetBool("watch")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		server := bridge.NewServer(service, &bridge.Config{
			Addr:   addr,
			Logger: logger.WithComponent("bridge").Logger,
		})
		if err := server.Start(); err != nil {
			fatalf("failed to start bridge: %v", err)
		}

		if watch {
			dir, err := service.SyncFolderPath(ctx)
			if err != nil {
				logger.Warn("sync folder unavailable, not watching", "error", err)
			} else if watcher, err := syncdir.NewWatcher(cfg.Watch.Debounce); err != nil {
				logger.Warn("failed to create watcher", "error", err)
			} else if err := watcher.Start(dir); err != nil {
				logger.Warn("failed to watch sync folder", "dir", dir, "error", err)
			} else {
				defer watcher.Stop()
				go server.Forward(ctx, watcher.Events(), watcher.Errors())
				fmt.Printf("Watching: %s\n", dir)
			}
		}

		fmt.Printf("%s Bridge listening on ws://%s/ws\n", ui.RenderPass("✓"), server.Addr())
		fmt.Printf("Health check: http://%s/health\n", server.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down bridge...")
		if err := server.Stop(); err != nil {
			fatalf("error during shutdown: %v", err)
		}
		fmt.Println("Bridge stopped")
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "address to listen on (default: bridge.addr)")
	serveCmd.Flags().Bool("watch", true, "push sync folder changes to clients")

	rootCmd.AddCommand(serveCmd)
}
