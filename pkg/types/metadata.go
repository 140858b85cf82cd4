package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"
)

// DefaultMetadataValueLength caps each normalized metadata value.
const DefaultMetadataValueLength = 1000

// Metadata is free-form context attached to log and activity records.
type Metadata map[string]any

// Normalize flattens every value to a string. Strings pass through; other
// values are JSON encoded. Values longer than maxLen bytes are cut at a
// rune boundary. A maxLen <= 0 uses DefaultMetadataValueLength.
func (m Metadata) Normalize(maxLen int) map[string]string {
	if maxLen <= 0 {
		maxLen = DefaultMetadataValueLength
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Truncate(stringify(v), maxLen)
	}
	return out
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// Truncate cuts s to at most maxLen bytes without splitting a rune.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
