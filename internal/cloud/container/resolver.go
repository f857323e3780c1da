// Package container discovers the absolute path of the application's iCloud
// container.
//
// The host API is trusted when it answers. When it returns nothing (seen on
// some build/signing configurations before the container has propagated
// server-side) the resolver falls back to the directory the cloud daemon
// keeps on disk, provided the user also holds an identity token:
//
//	~/Library/Mobile Documents/iCloud~com~biblemarker
//
// The fallback is a heuristic. An existing directory plus a signed-in user
// is taken as proof of a usable container; it is not an authoritative check
// and could in principle point at a stale provisioning state.
//
// Resolution is never cached. Sign-in state can change between calls.
package container

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/biblemarker/cloudsync/internal/cloud"
)

// DefaultContainerID is the application's ubiquity container identifier.
const DefaultContainerID = "iCloud.com.biblemarker"

// Gate lets a function run at most once for the lifetime of the gate.
type Gate struct {
	once sync.Once
}

// Do runs f the first time it is called and reports whether f ran.
func (g *Gate) Do(f func()) bool {
	ran := false
	g.once.Do(func() {
		ran = true
		f()
	})
	return ran
}

// fallbackNotice is the process-wide gate for the "fallback used" log line.
// It is written once and never reset.
var fallbackNotice Gate

// Config configures a Resolver.
type Config struct {
	// ContainerID is the ubiquity container identifier.
	ContainerID string

	// FallbackRoot is the directory the cloud daemon keeps containers in.
	// Empty means DefaultFallbackRoot().
	FallbackRoot string

	// Platform gates native calls entirely.
	Platform cloud.Platform

	// Logger receives the one-time fallback notice.
	Logger *slog.Logger

	// Gate overrides the process-wide log gate. Tests only.
	Gate *Gate
}

// Resolver implements container discovery with a disk fallback.
type Resolver struct {
	provider Provider
	identity Identity
	config   Config
}

// NewResolver creates a Resolver.
//
// If identity is nil and provider also implements Identity, the provider is
// used for both questions.
func NewResolver(provider Provider, identity Identity, config Config) *Resolver {
	if identity == nil {
		if id, ok := provider.(Identity); ok {
			identity = id
		}
	}
	if config.ContainerID == "" {
		config.ContainerID = DefaultContainerID
	}
	if config.FallbackRoot == "" {
		config.FallbackRoot = DefaultFallbackRoot()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Gate == nil {
		config.Gate = &fallbackNotice
	}

	return &Resolver{
		provider: provider,
		identity: identity,
		config:   config,
	}
}

// ContainerID returns the identifier this resolver looks up.
func (r *Resolver) ContainerID() string {
	return r.config.ContainerID
}

// Resolve returns the container path or the reason it is unavailable.
// It may block; use Bounded to call it with a deadline.
func (r *Resolver) Resolve() cloud.Availability {
	if !r.config.Platform.CloudCapable {
		return cloud.Unavailable(fmt.Errorf("%w: iCloud is only available on macOS and iOS", cloud.ErrPlatformUnsupported))
	}

	path, apiErr := r.provider.ContainerPath(r.config.ContainerID)

	// Asked regardless of the API result; the fallback needs it
	signedIn := r.identity != nil && r.identity.SignedIn()

	if apiErr == nil && path != "" {
		return cloud.Available(path)
	}

	fallback := r.FallbackPath()
	if isDir(fallback) && signedIn {
		r.config.Gate.Do(func() {
			r.config.Logger.Info("iCloud container API returned nothing; using on-disk container",
				"container_id", r.config.ContainerID,
				"path", fallback)
		})
		return cloud.Available(fallback)
	}

	switch {
	case apiErr != nil && !signedIn:
		return cloud.Unavailablef("%v; no iCloud account signed in. Make sure iCloud is enabled and the user is signed in.", apiErr)
	case apiErr != nil:
		return cloud.Unavailablef("%v. Make sure iCloud is enabled and the user is signed in.", apiErr)
	default:
		return cloud.Unavailablef("empty container path. Make sure iCloud is enabled and the user is signed in.")
	}
}

// FallbackPath returns where the cloud daemon keeps this container on disk.
func (r *Resolver) FallbackPath() string {
	if r.config.FallbackRoot == "" {
		return ""
	}
	return filepath.Join(r.config.FallbackRoot, UbiquityDirName(r.config.ContainerID))
}

// UbiquityDirName converts a container identifier to the directory name the
// daemon uses: "iCloud.com.biblemarker" becomes "iCloud~com~biblemarker".
func UbiquityDirName(containerID string) string {
	return strings.ReplaceAll(containerID, ".", "~")
}

// DefaultFallbackRoot returns ~/Library/Mobile Documents.
func DefaultFallbackRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Mobile Documents")
}

func isDir(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
