package cloud

import (
	"fmt"
	"runtime"
	"strings"
)

// WriteStrategy selects how files are written into the sync folder so the
// cloud daemon notices them.
type WriteStrategy int

const (
	// StrategyDirect writes the destination file in place.
	StrategyDirect WriteStrategy = iota
	// StrategyStaged writes a scratch file next to the destination and
	// promotes it with a rename.
	StrategyStaged
)

// String returns a human-readable representation of the strategy.
func (s WriteStrategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyStaged:
		return "staged"
	default:
		return "unknown"
	}
}

// ParseWriteStrategy parses "direct" or "staged".
func ParseWriteStrategy(s string) (WriteStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct":
		return StrategyDirect, nil
	case "staged", "stage":
		return StrategyStaged, nil
	default:
		return 0, fmt.Errorf("unknown write strategy %q (want direct or staged)", s)
	}
}

// Platform describes what the host can do. It is chosen once at startup.
type Platform struct {
	// Name is the GOOS the capabilities were derived for.
	Name string

	// CloudCapable is false on hosts with no ubiquitous container API.
	CloudCapable bool

	// Strategy is the sync folder write strategy for this host.
	Strategy WriteStrategy
}

// DetectPlatform returns the capabilities of the running binary.
func DetectPlatform() Platform {
	return PlatformFor(runtime.GOOS)
}

// PlatformFor returns the capabilities for a GOOS value.
//
// Desktop macOS observes direct writes reliably. iOS does not, so files are
// staged and promoted.
func PlatformFor(goos string) Platform {
	switch goos {
	case "darwin":
		return Platform{Name: goos, CloudCapable: true, Strategy: StrategyDirect}
	case "ios":
		return Platform{Name: goos, CloudCapable: true, Strategy: StrategyStaged}
	default:
		return Platform{Name: goos, CloudCapable: false, Strategy: StrategyDirect}
	}
}
