package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/seafloor/asyncjobs/pkg/core"
)

// Security limits and configuration
const (
	// MaxJobNameLength is the maximum length for job names
	MaxJobNameLength = 100

	// MaxArgIdentifierLength is the maximum length for argument identifiers
	MaxArgIdentifierLength = 100

	// MaxResultMessageLength is the maximum length for stored result messages
	MaxResultMessageLength = 5000

	// MaxConcurrency is the hard limit for backend worker concurrency
	MaxConcurrency = 1000
)

// validJobName matches alphanumeric, hyphens, underscores, and dots
var validJobName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateJobName validates a job name
func ValidateJobName(name string) error {
	if name == "" {
		return core.ErrInvalidJobName
	}
	if len(name) > MaxJobNameLength {
		return core.ErrJobNameTooLong
	}
	if !validJobName.MatchString(name) {
		return core.ErrInvalidJobName
	}
	return nil
}

// ValidateArgIdentifier validates an argument identifier's length
func ValidateArgIdentifier(identifier string) error {
	if len(identifier) > MaxArgIdentifierLength {
		return core.ErrArgIdentifierTooLong
	}
	return nil
}

// SanitizeResultMessage truncates and sanitizes result messages for storage
func SanitizeResultMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxResultMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxResultMessageLength-3]) + "..."
	}

	return result
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
