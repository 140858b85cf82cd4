package env

import (
	"os"
	"strings"
)

// Get returns the trimmed value of key, or fallback when it is unset or
// blank. It is for the few settings read before config.Load (PORT,
// LOG_FORMAT, instance ids).
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
