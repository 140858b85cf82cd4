package enums

import "fmt"

// ImportLogType classifies entries in the import log stream.
type ImportLogType string

const (
	ImportLogTypeRunStarted   ImportLogType = "run_started"
	ImportLogTypeRunSkipped   ImportLogType = "run_skipped"
	ImportLogTypePage         ImportLogType = "page_processed"
	ImportLogTypeBookFailed   ImportLogType = "book_failed"
	ImportLogTypeRetry        ImportLogType = "run_retry"
	ImportLogTypeRunCompleted ImportLogType = "run_completed"
	ImportLogTypeRunCancelled ImportLogType = "run_cancelled"
	ImportLogTypeRunFailed    ImportLogType = "run_failed"
)

var validImportLogTypes = []ImportLogType{
	ImportLogTypeRunStarted,
	ImportLogTypeRunSkipped,
	ImportLogTypePage,
	ImportLogTypeBookFailed,
	ImportLogTypeRetry,
	ImportLogTypeRunCompleted,
	ImportLogTypeRunCancelled,
	ImportLogTypeRunFailed,
}

// String implements fmt.Stringer.
func (t ImportLogType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known ImportLogType.
func (t ImportLogType) IsValid() bool {
	for _, candidate := range validImportLogTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseImportLogType converts raw input into an ImportLogType.
func ParseImportLogType(value string) (ImportLogType, error) {
	for _, candidate := range validImportLogTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid import log type %q", value)
}

// ImportLogStatus is the outcome recorded on an import log entry.
type ImportLogStatus string

const (
	ImportLogStatusInfo    ImportLogStatus = "info"
	ImportLogStatusSuccess ImportLogStatus = "success"
	ImportLogStatusWarning ImportLogStatus = "warning"
	ImportLogStatusError   ImportLogStatus = "error"
)

var validImportLogStatuses = []ImportLogStatus{
	ImportLogStatusInfo,
	ImportLogStatusSuccess,
	ImportLogStatusWarning,
	ImportLogStatusError,
}

// String implements fmt.Stringer.
func (s ImportLogStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ImportLogStatus.
func (s ImportLogStatus) IsValid() bool {
	for _, candidate := range validImportLogStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseImportLogStatus converts raw input into an ImportLogStatus.
func ParseImportLogStatus(value string) (ImportLogStatus, error) {
	for _, candidate := range validImportLogStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid import log status %q", value)
}
