package migrate

import "fmt"

// Kind is the terminal result of one migration attempt.
type Kind int

const (
	// Migrated means the legacy database was copied and passed its integrity check.
	Migrated Kind = iota
	// SkippedAlreadyLocal means a non-empty local database already exists.
	SkippedAlreadyLocal
	// SkippedNoContainer means the cloud container could not be located.
	SkippedNoContainer
	// SkippedNoSource means the container holds no legacy database.
	SkippedNoSource
	// FailedCorrupt means the copy failed its integrity check and was removed.
	FailedCorrupt
	// FailedIO means the copy or the check itself failed; nothing was left behind.
	FailedIO
)

var kindNames = map[Kind]string{
	Migrated:            "migrated",
	SkippedAlreadyLocal: "skipped_already_local",
	SkippedNoContainer:  "skipped_no_container",
	SkippedNoSource:     "skipped_no_source",
	FailedCorrupt:       "failed_corrupt",
	FailedIO:            "failed_io",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name written by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown migration outcome %q", text)
}

// Failed reports whether the kind is one of the failure outcomes.
func (k Kind) Failed() bool {
	return k == FailedCorrupt || k == FailedIO
}

// Outcome is the result of Engine.Run. Detail carries the cause for skips
// and failures and is safe to show to users.
type Outcome struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// Migrated reports whether the legacy database was migrated.
func (o Outcome) Migrated() bool {
	return o.Kind == Migrated
}

// Message is a human-readable summary of the outcome.
func (o Outcome) Message() string {
	switch o.Kind {
	case Migrated:
		return "Database migrated from iCloud to local storage"
	case SkippedAlreadyLocal:
		return "Local database already exists, skipping migration"
	case SkippedNoContainer:
		return withDetail("iCloud not available, skipping migration", o.Detail)
	case SkippedNoSource:
		return "No iCloud database found, nothing to migrate"
	case FailedCorrupt:
		return withDetail("iCloud database is corrupted, starting fresh", o.Detail)
	case FailedIO:
		return withDetail("Migration failed", o.Detail)
	default:
		return o.Kind.String()
	}
}

func withDetail(msg, detail string) string {
	if detail == "" {
		return msg
	}
	return msg + ": " + detail
}
