package instance

import (
	"os"

	"github.com/angelmondragon/bookstore-backend/pkg/env"
)

// GetID returns an identifier for this process. BOOKSTORE_INSTANCE_ID wins,
// then the platform dyno name, then the hostname.
func GetID() string {
	if id := env.Get("BOOKSTORE_INSTANCE_ID", env.Get("DYNO", "")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "bookstore-0"
}
