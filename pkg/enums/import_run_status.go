package enums

import "fmt"

// ImportRunStatus is the durable state of a catalog import run.
type ImportRunStatus string

const (
	ImportRunStatusPending           ImportRunStatus = "pending"
	ImportRunStatusRunning           ImportRunStatus = "running"
	ImportRunStatusRetrying          ImportRunStatus = "retrying"
	ImportRunStatusSucceeded         ImportRunStatus = "succeeded"
	ImportRunStatusFailedPermanently ImportRunStatus = "failed_permanently"
	ImportRunStatusCancelled         ImportRunStatus = "cancelled"
	ImportRunStatusSkipped           ImportRunStatus = "skipped"
)

var validImportRunStatuses = []ImportRunStatus{
	ImportRunStatusPending,
	ImportRunStatusRunning,
	ImportRunStatusRetrying,
	ImportRunStatusSucceeded,
	ImportRunStatusFailedPermanently,
	ImportRunStatusCancelled,
	ImportRunStatusSkipped,
}

// String implements fmt.Stringer.
func (s ImportRunStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ImportRunStatus.
func (s ImportRunStatus) IsValid() bool {
	for _, candidate := range validImportRunStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are expected.
func (s ImportRunStatus) IsTerminal() bool {
	switch s {
	case ImportRunStatusSucceeded, ImportRunStatusFailedPermanently, ImportRunStatusCancelled, ImportRunStatusSkipped:
		return true
	default:
		return false
	}
}

// ParseImportRunStatus converts raw input into an ImportRunStatus.
func ParseImportRunStatus(value string) (ImportRunStatus, error) {
	for _, candidate := range validImportRunStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid import run status %q", value)
}
