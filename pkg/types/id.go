package types

import "regexp"

// MinIDLength is the shortest accepted participant or experiment ID.
const MinIDLength = 3

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// IsValidID reports whether s can be used as a participant or experiment ID:
// at least MinIDLength characters, only ASCII letters, digits, underscore and
// hyphen. The rule keeps IDs safe to embed in file names.
func IsValidID(s string) bool {
	return len(s) >= MinIDLength && idPattern.MatchString(s)
}
