package models

import "fmt"

// AsString coerces a database value to a string, tolerating NULL.
func AsString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

// AsInt64 coerces a database value to an int64. Local reads surface
// integers as int64; JSON-decoded remote reads surface them as float64.
func AsInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case nil:
		return 0
	default:
		return 0
	}
}

func rowLengthError(kind string, want, got int) error {
	return fmt.Errorf("%s row has %d columns, want at least %d", kind, got, want)
}
