package utils

import "strconv"

// FormatBool encodes a flag the way it is persisted in user storage.
func FormatBool(b bool) string {
	return strconv.FormatBool(b)
}

// ParseBool decodes a persisted flag; anything unreadable counts as false.
func ParseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
