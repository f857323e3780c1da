package container

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/biblemarker/cloudsync/internal/cloud"
)

const testContainerID = "iCloud.com.biblemarker"

// fakeProvider records calls and answers from fixed values.
type fakeProvider struct {
	path      string
	err       error
	signedIn  bool
	pathCalls atomic.Int32
	idCalls   atomic.Int32
}

func (f *fakeProvider) ContainerPath(string) (string, error) {
	f.pathCalls.Add(1)
	return f.path, f.err
}

func (f *fakeProvider) SignedIn() bool {
	f.idCalls.Add(1)
	return f.signedIn
}

func capable() cloud.Platform {
	return cloud.PlatformFor("darwin")
}

// newTestResolver returns a resolver with its own log gate and a fallback
// root under t.TempDir().
func newTestResolver(t *testing.T, p *fakeProvider, logs *bytes.Buffer) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		ContainerID:  testContainerID,
		FallbackRoot: root,
		Platform:     capable(),
		Gate:         &Gate{},
	}
	if logs != nil {
		cfg.Logger = slog.New(slog.NewTextHandler(logs, nil))
	}
	return NewResolver(p, nil, cfg), root
}

func TestResolve_PrimaryAPI(t *testing.T) {
	p := &fakeProvider{path: "/tmp/fakeContainer"}
	r, _ := newTestResolver(t, p, nil)

	a := r.Resolve()
	if !a.OK() {
		t.Fatalf("Resolve() unavailable: %v", a.Err)
	}
	if a.Path != "/tmp/fakeContainer" {
		t.Errorf("Path = %q, want %q", a.Path, "/tmp/fakeContainer")
	}
	if p.idCalls.Load() != 1 {
		t.Errorf("identity queried %d times, want 1", p.idCalls.Load())
	}
}

func TestResolve_PlatformUnsupported(t *testing.T) {
	p := &fakeProvider{path: "/tmp/fakeContainer", signedIn: true}
	r := NewResolver(p, nil, Config{
		ContainerID: testContainerID,
		Platform:    cloud.PlatformFor("linux"),
		Gate:        &Gate{},
	})

	a := r.Resolve()
	if a.OK() {
		t.Fatal("Resolve() should be unavailable on linux")
	}
	if !errors.Is(a.Err, cloud.ErrPlatformUnsupported) {
		t.Errorf("Err = %v, want ErrPlatformUnsupported", a.Err)
	}
	if p.pathCalls.Load() != 0 || p.idCalls.Load() != 0 {
		t.Errorf("native calls made on unsupported platform: path=%d identity=%d",
			p.pathCalls.Load(), p.idCalls.Load())
	}
}

func TestResolve_Fallback(t *testing.T) {
	tests := []struct {
		name      string
		dirExists bool
		signedIn  bool
		wantOK    bool
	}{
		{"dir and identity", true, true, true},
		{"dir without identity", true, false, false},
		{"identity without dir", false, true, false},
		{"neither", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{err: errors.New("URLForUbiquityContainerIdentifier returned nil"), signedIn: tt.signedIn}
			r, root := newTestResolver(t, p, nil)

			want := filepath.Join(root, "iCloud~com~biblemarker")
			if tt.dirExists {
				if err := os.MkdirAll(want, 0755); err != nil {
					t.Fatalf("MkdirAll() failed: %v", err)
				}
			}

			a := r.Resolve()
			if a.OK() != tt.wantOK {
				t.Fatalf("Resolve().OK() = %v, want %v (err=%v)", a.OK(), tt.wantOK, a.Err)
			}
			if tt.wantOK && a.Path != want {
				t.Errorf("Path = %q, want %q", a.Path, want)
			}
			if !tt.wantOK && !errors.Is(a.Err, cloud.ErrUnavailable) {
				t.Errorf("Err = %v, want ErrUnavailable", a.Err)
			}
		})
	}
}

func TestResolve_FallbackIgnoresPlainFile(t *testing.T) {
	p := &fakeProvider{signedIn: true}
	r, root := newTestResolver(t, p, nil)

	if err := os.WriteFile(filepath.Join(root, "iCloud~com~biblemarker"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if a := r.Resolve(); a.OK() {
		t.Errorf("Resolve() = %q, a regular file must not count as a container", a.Path)
	}
}

func TestResolve_FallbackLogsOnce(t *testing.T) {
	var logs bytes.Buffer
	p := &fakeProvider{signedIn: true}
	r, root := newTestResolver(t, p, &logs)

	if err := os.MkdirAll(filepath.Join(root, "iCloud~com~biblemarker"), 0755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if a := r.Resolve(); !a.OK() {
			t.Fatalf("Resolve() #%d unavailable: %v", i, a.Err)
		}
	}

	if n := strings.Count(logs.String(), "using on-disk container"); n != 1 {
		t.Errorf("fallback notice logged %d times, want 1\n%s", n, logs.String())
	}
}

func TestResolve_NotCached(t *testing.T) {
	p := &fakeProvider{path: "/tmp/a"}
	r, _ := newTestResolver(t, p, nil)

	if a := r.Resolve(); a.Path != "/tmp/a" {
		t.Fatalf("Path = %q, want /tmp/a", a.Path)
	}

	p.path = ""
	p.err = errors.New("signed out")
	if a := r.Resolve(); a.OK() {
		t.Errorf("Resolve() returned stale path %q after sign-out", a.Path)
	}
}

func TestUbiquityDirName(t *testing.T) {
	if got := UbiquityDirName("iCloud.com.biblemarker"); got != "iCloud~com~biblemarker" {
		t.Errorf("UbiquityDirName() = %q", got)
	}
}

func TestGate(t *testing.T) {
	var g Gate
	count := 0
	for i := 0; i < 5; i++ {
		g.Do(func() { count++ })
	}
	if count != 1 {
		t.Errorf("Gate ran %d times, want 1", count)
	}
}

func TestBounded_Timeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	slow := ProviderFunc(func(string) (string, error) {
		<-block
		return "/never", nil
	})
	r := NewResolver(slow, IdentityFunc(func() bool { return true }), Config{
		ContainerID: testContainerID,
		Platform:    capable(),
		Gate:        &Gate{},
	})

	b := NewBounded(r, 30*time.Millisecond)
	a := b.Locate(context.Background())
	if a.OK() {
		t.Fatal("Locate() should time out")
	}
	if !errors.Is(a.Err, cloud.ErrTimeout) {
		t.Errorf("Err = %v, want ErrTimeout", a.Err)
	}
	if !errors.Is(a.Err, cloud.ErrUnavailable) {
		t.Errorf("Err = %v, want ErrUnavailable in chain", a.Err)
	}
}

func TestBounded_PassThrough(t *testing.T) {
	p := &fakeProvider{path: "/tmp/fakeContainer"}
	r, _ := newTestResolver(t, p, nil)

	a := NewBounded(r, 0).Locate(context.Background())
	if !a.OK() || a.Path != "/tmp/fakeContainer" {
		t.Errorf("Locate() = %+v", a)
	}
}

func TestExecProvider(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}

	p := ExecProvider{
		PathCommand:     []string{"sh", "-c", `printf '%s\n' "/containers/$1"`, "sh"},
		IdentityCommand: []string{"true"},
		Timeout:         5 * time.Second,
	}

	path, err := p.ContainerPath(testContainerID)
	if err != nil {
		t.Fatalf("ContainerPath() failed: %v", err)
	}
	if path != "/containers/"+testContainerID {
		t.Errorf("ContainerPath() = %q", path)
	}
	if !p.SignedIn() {
		t.Error("SignedIn() = false, want true")
	}

	p.IdentityCommand = []string{"false"}
	if p.SignedIn() {
		t.Error("SignedIn() = true for failing identity command")
	}

	empty := ExecProvider{PathCommand: []string{"true"}}
	if _, err := empty.ContainerPath(testContainerID); err == nil {
		t.Error("ContainerPath() should fail on empty output")
	}

	if _, err := (ExecProvider{}).ContainerPath(testContainerID); err == nil {
		t.Error("ContainerPath() should fail without a helper")
	}
}

func TestStaticProvider(t *testing.T) {
	p := StaticProvider{Path: "/x", Identity: true}
	if path, err := p.ContainerPath(testContainerID); err != nil || path != "/x" {
		t.Errorf("ContainerPath() = %q, %v", path, err)
	}
	if _, err := (StaticProvider{}).ContainerPath(testContainerID); err == nil {
		t.Error("empty StaticProvider should fail")
	}
}
