package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/seafloor/asyncjobs/pkg/core"
)

func TestValidateJobName_Valid(t *testing.T) {
	for _, name := range []string{
		"a",
		"extract_features",
		"clean-up.old.jobs",
		"Job123",
		strings.Repeat("x", MaxJobNameLength),
	} {
		assert.NoError(t, ValidateJobName(name), name)
	}
}

func TestValidateJobName_Invalid(t *testing.T) {
	for _, name := range []string{
		"",
		"1starts-with-digit",
		"_starts-with-underscore",
		"has space",
		"has/slash",
		"has,comma",
	} {
		assert.ErrorIs(t, ValidateJobName(name), core.ErrInvalidJobName, name)
	}
}

func TestValidateJobName_TooLong(t *testing.T) {
	name := strings.Repeat("x", MaxJobNameLength+1)
	assert.ErrorIs(t, ValidateJobName(name), core.ErrJobNameTooLong)
}

func TestValidateArgIdentifier(t *testing.T) {
	assert.NoError(t, ValidateArgIdentifier(""))
	assert.NoError(t, ValidateArgIdentifier(strings.Repeat("a", MaxArgIdentifierLength)))
	assert.ErrorIs(t,
		ValidateArgIdentifier(strings.Repeat("a", MaxArgIdentifierLength+1)),
		core.ErrArgIdentifierTooLong)
}

func TestSanitizeResultMessage_StripsControlCharacters(t *testing.T) {
	assert.Equal(t, "hello world", SanitizeResultMessage("hel\x00lo wor\x01ld"))
	assert.Equal(t, "line1\nline2\ttab", SanitizeResultMessage("line1\nline2\ttab"))
}

func TestSanitizeResultMessage_Truncates(t *testing.T) {
	msg := strings.Repeat("a", MaxResultMessageLength+100)
	out := SanitizeResultMessage(msg)
	assert.Len(t, out, MaxResultMessageLength)
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestSanitizeResultMessage_Empty(t *testing.T) {
	assert.Equal(t, "", SanitizeResultMessage(""))
}

func TestClampConcurrency(t *testing.T) {
	assert.Equal(t, 1, ClampConcurrency(0))
	assert.Equal(t, 1, ClampConcurrency(-5))
	assert.Equal(t, 10, ClampConcurrency(10))
	assert.Equal(t, MaxConcurrency, ClampConcurrency(MaxConcurrency+1))
}
