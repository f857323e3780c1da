package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/biblemarker/cloudsync/internal/app"
	"github.com/biblemarker/cloudsync/internal/cloud/syncdir"
	"github.com/biblemarker/cloudsync/internal/localdb"
)

// maxRequestBytes bounds a single request frame.
const maxRequestBytes = 32 << 20

// Service is the set of operations the bridge exposes. *app.Service
// implements it.
type Service interface {
	CheckAvailability(ctx context.Context) app.Status
	SyncFolderPath(ctx context.Context) (string, error)
	WriteSyncFile(path string, content []byte) error
	ListSyncDir(path string) syncdir.Listing
	MigrateLegacyDatabase(ctx context.Context) app.MigrationResult
	DeleteLocalDatabase() (localdb.Confirmation, error)
	SyncStatus(ctx context.Context) app.SyncStatus
	TestWrite(ctx context.Context) (syncdir.ProbeResult, error)
	LegacyDatabasePath(ctx context.Context) (string, error)
}

// Request is one client command.
type Request struct {
	ID   string          `json:"id"`
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response answers exactly one Request. Error is a display string.
type Response struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PathArgs is the argument of list_sync_dir.
type PathArgs struct {
	Path string `json:"path"`
}

// WriteArgs is the argument of write_sync_file. Content is text;
// ContentBase64 carries binary content and wins when both are set.
type WriteArgs struct {
	Path          string `json:"path"`
	Content       string `json:"content"`
	ContentBase64 string `json:"content_base64,omitempty"`
}

// SyncEventData is the payload of a sync_event message.
type SyncEventData struct {
	Path string `json:"path"`
	Rel  string `json:"rel"`
	Op   string `json:"op"`
	Dir  bool   `json:"dir"`
}

type command func(ctx context.Context, args json.RawMessage) (any, error)

// Handler decodes requests, runs them against the service and formats
// watcher events as broadcast messages.
type Handler struct {
	server   *Server
	svc      Service
	logger   *slog.Logger
	commands map[string]command
}

// NewHandler creates a handler answering with svc and broadcasting through server.
func NewHandler(server *Server, svc Service, logger *slog.Logger) *Handler {
	h := &Handler{server: server, svc: svc, logger: logger}
	h.commands = map[string]command{
		"check_icloud_status":      h.checkStatus,
		"get_sync_folder_path":     h.syncFolderPath,
		"write_sync_file":          h.writeSyncFile,
		"list_sync_dir":            h.listSyncDir,
		"migrate_legacy_database":  h.migrate,
		"delete_local_database":    h.deleteLocal,
		"get_sync_status":          h.syncStatus,
		"test_icloud_write":        h.testWrite,
		"get_icloud_database_path": h.legacyPath,
	}
	return h
}

// Commands returns the supported command names, sorted.
func (h *Handler) Commands() []string {
	names := make([]string, 0, len(h.commands))
	for name := range h.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle decodes and runs one request frame. It always returns a response;
// malformed frames are answered with ok=false.
func (h *Handler) Handle(ctx context.Context, frame []byte) Response {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return Response{ID: uuid.NewString(), Error: fmt.Sprintf("invalid request: %v", err)}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	cmd, ok := h.commands[req.Cmd]
	if !ok {
		return Response{ID: req.ID, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}

	start := time.Now()
	result, err := cmd(ctx, req.Args)
	h.logger.Debug("handled request", "id", req.ID, "cmd", req.Cmd, "elapsed", time.Since(start), "ok", err == nil)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	return Response{ID: req.ID, OK: true, Result: result}
}

func (h *Handler) checkStatus(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.svc.CheckAvailability(ctx), nil
}

func (h *Handler) syncFolderPath(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.svc.SyncFolderPath(ctx)
}

func (h *Handler) writeSyncFile(_ context.Context, raw json.RawMessage) (any, error) {
	var args WriteArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, errors.New("missing argument: path")
	}

	content := []byte(args.Content)
	if args.ContentBase64 != "" {
		b, err := base64.StdEncoding.DecodeString(args.ContentBase64)
		if err != nil {
			return nil, fmt.Errorf("invalid content_base64: %w", err)
		}
		content = b
	}

	if err := h.svc.WriteSyncFile(args.Path, content); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *Handler) listSyncDir(_ context.Context, raw json.RawMessage) (any, error) {
	var args PathArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, errors.New("missing argument: path")
	}
	return h.svc.ListSyncDir(args.Path), nil
}

func (h *Handler) migrate(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.svc.MigrateLegacyDatabase(ctx), nil
}

func (h *Handler) deleteLocal(_ context.Context, _ json.RawMessage) (any, error) {
	conf, err := h.svc.DeleteLocalDatabase()
	if err != nil {
		return nil, err
	}
	return conf.Message(), nil
}

func (h *Handler) syncStatus(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.svc.SyncStatus(ctx), nil
}

func (h *Handler) testWrite(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.svc.TestWrite(ctx)
}

func (h *Handler) legacyPath(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.svc.LegacyDatabasePath(ctx)
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid args: %w", err)
	}
	return nil
}

// OnSyncEvent broadcasts a sync folder change
func (h *Handler) OnSyncEvent(e syncdir.Event) {
	data, err := json.Marshal(SyncEventData{
		Path: e.Path,
		Rel:  e.Rel,
		Op:   e.Op.String(),
		Dir:  e.Dir,
	})
	if err != nil {
		h.logger.Error("failed to marshal sync event", "error", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncEvent,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// OnWatchError broadcasts a watcher error
func (h *Handler) OnWatchError(err error) {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	h.server.Broadcast(Message{
		Type:      MessageTypeWatchError,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// Forward broadcasts watcher events and errors until both channels close or
// ctx is done.
func (s *Server) Forward(ctx context.Context, events <-chan syncdir.Event, errs <-chan error) {
	for events != nil || errs != nil {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handler.OnSyncEvent(e)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("sync folder watcher error", "error", err)
			s.handler.OnWatchError(err)
		}
	}
}

// Handler returns the request handler.
func (s *Server) Handler() *Handler {
	return s.handler
}
