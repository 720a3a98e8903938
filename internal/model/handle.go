package model

import "regexp"

const (
	MaxHandleLength   = 30
	MaxEmailLength    = 300
	MaxPasswordLength = 100
)

var handlePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidateHandle reports whether h uses only lowercase letters, digits and
// hyphens. Length limits are applied by the flows that accept handles.
func ValidateHandle(h string) bool {
	return handlePattern.MatchString(h)
}
