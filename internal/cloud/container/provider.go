package container

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Provider is the host's ubiquitous container API.
//
// ContainerPath returns the absolute path of the container for the given
// identifier, or an error when the API returns no URL. Implementations may
// block; callers route them through bounded.Call.
type Provider interface {
	ContainerPath(containerID string) (string, error)
}

// Identity reports whether the user currently holds a cloud identity token.
// It is independent of whether the container API succeeds.
type Identity interface {
	SignedIn() bool
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(containerID string) (string, error)

// ContainerPath implements Provider.
func (f ProviderFunc) ContainerPath(containerID string) (string, error) {
	return f(containerID)
}

// IdentityFunc adapts a function to an Identity.
type IdentityFunc func() bool

// SignedIn implements Identity.
func (f IdentityFunc) SignedIn() bool {
	return f()
}

// StaticProvider answers from fixed values. It is used on hosts without a
// native helper and in tests.
type StaticProvider struct {
	// Path is returned by ContainerPath. Empty means the API has no URL.
	Path string

	// Identity is returned by SignedIn.
	Identity bool
}

// ContainerPath implements Provider.
func (p StaticProvider) ContainerPath(containerID string) (string, error) {
	if p.Path == "" {
		return "", fmt.Errorf("no container URL for %s", containerID)
	}
	return p.Path, nil
}

// SignedIn implements Identity.
func (p StaticProvider) SignedIn() bool {
	return p.Identity
}

// ExecProvider asks a native helper binary for the container.
//
// The helper owns the framework objects; this process only sees strings.
// PathCommand receives the container identifier as its final argument and
// prints the container path on stdout. IdentityCommand exits 0 when an
// identity token is present.
type ExecProvider struct {
	PathCommand     []string
	IdentityCommand []string

	// Timeout bounds each helper process. Zero means no limit of its own.
	Timeout time.Duration
}

// ContainerPath implements Provider.
func (p ExecProvider) ContainerPath(containerID string) (string, error) {
	if len(p.PathCommand) == 0 {
		return "", errors.New("no container helper configured")
	}

	args := append(append([]string{}, p.PathCommand[1:]...), containerID)
	out, err := execContext(context.Background(), p.Timeout, "", p.PathCommand[0], args...)
	if err != nil {
		return "", fmt.Errorf("container helper failed: %w", err)
	}

	path := firstLine(out)
	if path == "" {
		return "", fmt.Errorf("no container URL for %s", containerID)
	}
	return path, nil
}

// SignedIn implements Identity.
func (p ExecProvider) SignedIn() bool {
	if len(p.IdentityCommand) == 0 {
		return false
	}
	_, err := execContext(context.Background(), p.Timeout, "", p.IdentityCommand[0], p.IdentityCommand[1:]...)
	return err == nil
}

// HelperAvailable reports whether the configured helper binary is on PATH.
func (p ExecProvider) HelperAvailable() bool {
	if len(p.PathCommand) == 0 {
		return false
	}
	_, err := exec.LookPath(p.PathCommand[0])
	return err == nil
}

func firstLine(output []byte) string {
	s := strings.TrimSpace(string(output))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
