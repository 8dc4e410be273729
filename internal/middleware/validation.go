package middleware

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
)

// Input limits enforced at the HTTP edge.
const (
	MaxContentLength  = 100000
	MaxTitleRunes     = 256
	MaxTenantIDLength = 64
)

// invalid builds an error matching agenterr.ErrValidation.
func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s %s", agenterr.ErrValidation, field, fmt.Sprintf(format, args...))
}

// ValidateMessageContent checks a user message before it reaches a turn.
func ValidateMessageContent(content string) error {
	switch {
	case content == "":
		return invalid("content", "cannot be empty")
	case len(content) > MaxContentLength:
		return invalid("content", "exceeds %d bytes", MaxContentLength)
	case !utf8.ValidString(content):
		return invalid("content", "must be valid UTF-8")
	}
	return nil
}

// ValidateThreadID accepts the UUIDs the thread store generates.
func ValidateThreadID(id string) error {
	return validateUUID("thread id", id)
}

// ValidateJobID accepts the UUIDs the job service generates.
func ValidateJobID(id string) error {
	return validateUUID("job id", id)
}

func validateUUID(field, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return invalid(field, "%q is not a UUID", id)
	}
	return nil
}

// ValidateTenantID checks the tenant claim of a token. Tenants key storage
// and rate limits, so control characters and whitespace are refused.
func ValidateTenantID(id string) error {
	if id == "" {
		return invalid("tenant id", "cannot be empty")
	}
	if len(id) > MaxTenantIDLength {
		return invalid("tenant id", "exceeds %d bytes", MaxTenantIDLength)
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return invalid("tenant id", "contains whitespace or control characters")
	}
	return nil
}

// ValidateTitle checks an optional thread title. The empty title is allowed.
func ValidateTitle(title string) error {
	if !utf8.ValidString(title) {
		return invalid("title", "must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleRunes {
		return invalid("title", "has %d characters, limit is %d", n, MaxTitleRunes)
	}
	if strings.ContainsFunc(title, unicode.IsControl) {
		return invalid("title", "contains control characters")
	}
	return nil
}
