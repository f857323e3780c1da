package migrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/biblemarker/cloudsync/internal/cloud"
	"github.com/biblemarker/cloudsync/internal/cloud/container"
	"github.com/biblemarker/cloudsync/internal/localdb"
)

const testApp = "biblemarker"

type env struct {
	dataDir   string
	container string
	legacy    string
	locates   atomic.Int32
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		dataDir:   filepath.Join(root, "data"),
		container: filepath.Join(root, "Mobile Documents", "iCloud~com~biblemarker"),
	}
	e.legacy = LegacyPath(e.container, testApp)
	if err := os.MkdirAll(filepath.Dir(e.legacy), 0755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	return e
}

func (e *env) locator() container.Locator {
	return container.LocatorFunc(func(context.Context) cloud.Availability {
		e.locates.Add(1)
		return cloud.Available(e.container)
	})
}

func (e *env) engine(checker Checker) *Engine {
	return NewEngine(Config{
		DataDir:     e.dataDir,
		AppName:     testApp,
		Locator:     e.locator(),
		Checker:     checker,
		JournalPath: filepath.Join(e.dataDir, JournalFile),
	})
}

func (e *env) localPath() string {
	return filepath.Join(e.dataDir, testApp+".db")
}

// writeLegacyDB creates a valid database at the legacy location.
func writeLegacyDB(t *testing.T, path string) {
	t.Helper()
	db, err := localdb.Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	for _, s := range []string{
		`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)`,
		`INSERT INTO notes (body) VALUES ('In the beginning')`,
	} {
		if _, err := db.RawDB().Exec(s); err != nil {
			_ = db.Close()
			t.Fatalf("Exec() failed: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
}

func assertAbsent(t *testing.T, path string) {
	t.Helper()
	if info, err := os.Stat(path); err == nil {
		t.Errorf("%s exists with %d bytes, want absent", path, info.Size())
	} else if !os.IsNotExist(err) {
		t.Errorf("Stat(%s) failed: %v", path, err)
	}
}

// TestRun_MigratesThenSkips verifies a valid legacy database is migrated once
// and that the second run is idempotent.
func TestRun_MigratesThenSkips(t *testing.T) {
	e := newEnv(t)
	writeLegacyDB(t, e.legacy)

	legacyBefore, err := os.ReadFile(e.legacy)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}

	eng := e.engine(nil)
	out := eng.Run(context.Background())
	if out.Kind != Migrated {
		t.Fatalf("first Run() = %v (%s), want migrated", out.Kind, out.Detail)
	}
	if !out.Migrated() {
		t.Error("Migrated() = false")
	}

	local, err := os.ReadFile(e.localPath())
	if err != nil {
		t.Fatalf("local database missing: %v", err)
	}
	if !bytes.Equal(local, legacyBefore) {
		t.Error("local copy differs from legacy database")
	}

	info, err := localdb.Inspect(context.Background(), e.localPath())
	if err != nil {
		t.Fatalf("Inspect() failed: %v", err)
	}
	if info.Tables != 1 {
		t.Errorf("migrated database has %d tables, want 1", info.Tables)
	}

	out = eng.Run(context.Background())
	if out.Kind != SkippedAlreadyLocal {
		t.Errorf("second Run() = %v, want skipped_already_local", out.Kind)
	}

	// Legacy file is never modified
	legacyAfter, err := os.ReadFile(e.legacy)
	if err != nil {
		t.Fatalf("legacy database removed: %v", err)
	}
	if !bytes.Equal(legacyAfter, legacyBefore) {
		t.Error("legacy database was modified")
	}

	rec, err := LoadJournal(filepath.Join(e.dataDir, JournalFile))
	if err != nil {
		t.Fatalf("LoadJournal() failed: %v", err)
	}
	if len(rec.Attempts) != 2 {
		t.Fatalf("journal has %d attempts, want 2", len(rec.Attempts))
	}
	if rec.Attempts[0].Outcome != Migrated || rec.Attempts[0].Source != e.legacy {
		t.Errorf("first attempt = %+v", rec.Attempts[0])
	}
	if last, _ := rec.Last(); last.Outcome != SkippedAlreadyLocal {
		t.Errorf("last attempt = %v, want skipped_already_local", last.Outcome)
	}
}

// TestRun_ExistingLocalNeverLocates verifies a local database short-circuits
// before the container is resolved.
func TestRun_ExistingLocalNeverLocates(t *testing.T) {
	e := newEnv(t)
	if err := os.MkdirAll(e.dataDir, 0755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	if err := os.WriteFile(e.localPath(), []byte("existing"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	writeLegacyDB(t, e.legacy)

	out := e.engine(nil).Run(context.Background())
	if out.Kind != SkippedAlreadyLocal {
		t.Fatalf("Run() = %v, want skipped_already_local", out.Kind)
	}
	if n := e.locates.Load(); n != 0 {
		t.Errorf("Locate called %d times, want 0", n)
	}
	got, _ := os.ReadFile(e.localPath())
	if string(got) != "existing" {
		t.Error("existing local database was overwritten")
	}
}

// TestRun_EmptyLocalTreatedAsAbsent verifies a 0-byte local file does not
// block migration.
func TestRun_EmptyLocalTreatedAsAbsent(t *testing.T) {
	e := newEnv(t)
	writeLegacyDB(t, e.legacy)
	if err := os.MkdirAll(e.dataDir, 0755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	if err := os.WriteFile(e.localPath(), nil, 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	out := e.engine(nil).Run(context.Background())
	if out.Kind != Migrated {
		t.Fatalf("Run() = %v (%s), want migrated", out.Kind, out.Detail)
	}
	info, err := os.Stat(e.localPath())
	if err != nil || info.Size() == 0 {
		t.Errorf("local database not populated: %v", err)
	}
}

func TestRun_NoContainer(t *testing.T) {
	e := newEnv(t)
	eng := NewEngine(Config{
		DataDir: e.dataDir,
		AppName: testApp,
		Locator: container.LocatorFunc(func(context.Context) cloud.Availability {
			return cloud.Unavailable(cloud.ErrPlatformUnsupported)
		}),
	})

	out := eng.Run(context.Background())
	if out.Kind != SkippedNoContainer {
		t.Fatalf("Run() = %v, want skipped_no_container", out.Kind)
	}
	if out.Kind.Failed() {
		t.Error("a missing container must not be a failure")
	}
	if !strings.Contains(out.Message(), "platform not supported") {
		t.Errorf("Message() = %q", out.Message())
	}
	assertAbsent(t, e.localPath())
}

func TestRun_NoSource(t *testing.T) {
	e := newEnv(t)

	out := e.engine(nil).Run(context.Background())
	if out.Kind != SkippedNoSource {
		t.Fatalf("Run() = %v, want skipped_no_source", out.Kind)
	}
	assertAbsent(t, e.localPath())
}

// TestRun_SideFilesNotCopied verifies only the primary file is migrated.
func TestRun_SideFilesNotCopied(t *testing.T) {
	e := newEnv(t)
	writeLegacyDB(t, e.legacy)

	junk := []byte("stale side file from another generation")
	for _, suffix := range []string{localdb.WALSuffix, localdb.SHMSuffix} {
		if err := os.WriteFile(e.legacy+suffix, junk, 0644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
	}

	var checked []string
	checker := func(_ context.Context, path string) error {
		checked = append(checked, path)
		for _, suffix := range []string{localdb.WALSuffix, localdb.SHMSuffix} {
			if _, err := os.Stat(path + suffix); err == nil {
				return fmt.Errorf("side file %s present at check time", suffix)
			}
		}
		return nil
	}

	out := e.engine(checker).Run(context.Background())
	if out.Kind != Migrated {
		t.Fatalf("Run() = %v (%s), want migrated", out.Kind, out.Detail)
	}
	if len(checked) != 1 || checked[0] != e.localPath() {
		t.Errorf("checker called with %v", checked)
	}

	// Legacy side files are left where they were
	for _, suffix := range []string{localdb.WALSuffix, localdb.SHMSuffix} {
		got, err := os.ReadFile(e.legacy + suffix)
		if err != nil || !bytes.Equal(got, junk) {
			t.Errorf("legacy %s changed: %v", suffix, err)
		}
	}
}

// TestRun_StaleLocalSideFilesCleared verifies side files left next to an
// empty local database are removed before the copy.
func TestRun_StaleLocalSideFilesCleared(t *testing.T) {
	e := newEnv(t)
	writeLegacyDB(t, e.legacy)

	local := localdb.NewFileSet(e.dataDir, testApp)
	if err := os.MkdirAll(e.dataDir, 0755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	for _, p := range []string{local.WAL(), local.SHM()} {
		if err := os.WriteFile(p, []byte("stale"), 0644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
	}

	checker := func(_ context.Context, path string) error {
		if _, err := os.Stat(path + localdb.WALSuffix); err == nil {
			return errors.New("stale wal survived")
		}
		return nil
	}

	if out := e.engine(checker).Run(context.Background()); out.Kind != Migrated {
		t.Fatalf("Run() = %v (%s), want migrated", out.Kind, out.Detail)
	}
}

// TestRun_CorruptLeavesNothing verifies an integrity failure removes the copy.
func TestRun_CorruptLeavesNothing(t *testing.T) {
	e := newEnv(t)
	writeLegacyDB(t, e.legacy)

	checker := func(context.Context, string) error {
		return fmt.Errorf("%w: *** in database main ***", cloud.ErrIntegrity)
	}

	out := e.engine(checker).Run(context.Background())
	if out.Kind != FailedCorrupt {
		t.Fatalf("Run() = %v, want failed_corrupt", out.Kind)
	}
	for _, p := range localdb.NewFileSet(e.dataDir, testApp).Paths() {
		assertAbsent(t, p)
	}
	if _, err := os.Stat(e.legacy); err != nil {
		t.Errorf("legacy database removed: %v", err)
	}
}

// TestRun_CheckErrorLeavesNothing verifies an open/check error removes the copy.
func TestRun_CheckErrorLeavesNothing(t *testing.T) {
	e := newEnv(t)
	writeLegacyDB(t, e.legacy)

	checker := func(context.Context, string) error {
		return cloud.IOErr("open database", "x", errors.New("file is not a database"))
	}

	out := e.engine(checker).Run(context.Background())
	if out.Kind != FailedIO {
		t.Fatalf("Run() = %v, want failed_io", out.Kind)
	}
	if !strings.Contains(out.Detail, "file is not a database") {
		t.Errorf("Detail = %q", out.Detail)
	}
	assertAbsent(t, e.localPath())
}

// TestRun_TruncatedLegacy runs the real integrity check against a damaged file.
func TestRun_TruncatedLegacy(t *testing.T) {
	e := newEnv(t)
	writeLegacyDB(t, e.legacy)

	info, err := os.Stat(e.legacy)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if err := os.Truncate(e.legacy, info.Size()/2); err != nil {
		t.Fatalf("Truncate() failed: %v", err)
	}

	out := e.engine(nil).Run(context.Background())
	if !out.Kind.Failed() {
		t.Fatalf("Run() = %v, want a failure outcome", out.Kind)
	}
	assertAbsent(t, e.localPath())

	// The next startup starts fresh: nothing local, legacy still there
	if _, err := os.Stat(e.legacy); err != nil {
		t.Errorf("legacy database removed: %v", err)
	}
}

// TestRun_GarbageLegacy verifies a non-database source is rejected.
func TestRun_GarbageLegacy(t *testing.T) {
	e := newEnv(t)
	if err := os.WriteFile(e.legacy, bytes.Repeat([]byte("not sqlite "), 1000), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	out := e.engine(nil).Run(context.Background())
	if !out.Kind.Failed() {
		t.Fatalf("Run() = %v, want a failure outcome", out.Kind)
	}
	assertAbsent(t, e.localPath())
}

func TestRun_SourceIsDirectory(t *testing.T) {
	e := newEnv(t)
	if err := os.Mkdir(e.legacy, 0755); err != nil {
		t.Fatalf("Mkdir() failed: %v", err)
	}

	out := e.engine(nil).Run(context.Background())
	if out.Kind != FailedIO {
		t.Fatalf("Run() = %v, want failed_io", out.Kind)
	}
	assertAbsent(t, e.localPath())
}

func TestLegacyPath(t *testing.T) {
	got := LegacyPath("/c", "biblemarker")
	want := filepath.Join("/c", "Documents", "biblemarker.db")
	if got != want {
		t.Errorf("LegacyPath() = %q, want %q", got, want)
	}
}

func TestKind_Text(t *testing.T) {
	for k := Migrated; k <= FailedIO; k++ {
		text, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText() failed: %v", err)
		}
		var back Kind
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) failed: %v", text, err)
		}
		if back != k {
			t.Errorf("round trip %v -> %q -> %v", k, text, back)
		}
	}

	var k Kind
	if err := k.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("UnmarshalText(bogus) should fail")
	}
}

func TestOutcome_Message(t *testing.T) {
	tests := []struct {
		out  Outcome
		want string
	}{
		{Outcome{Kind: Migrated}, "migrated"},
		{Outcome{Kind: SkippedAlreadyLocal}, "already exists"},
		{Outcome{Kind: SkippedNoSource}, "nothing to migrate"},
		{Outcome{Kind: FailedCorrupt, Detail: "bad page"}, "corrupted, starting fresh: bad page"},
		{Outcome{Kind: FailedIO, Detail: "disk full"}, "Migration failed: disk full"},
	}
	for _, tt := range tests {
		if got := tt.out.Message(); !strings.Contains(got, tt.want) {
			t.Errorf("%v Message() = %q, want it to contain %q", tt.out.Kind, got, tt.want)
		}
	}
}
