package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	// IdentifierRegex validates user, group and session identifiers.
	IdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)
)

const MaxIdentifierLength = 128

// ValidateIdentifier checks an opaque identifier supplied by a client.
func ValidateIdentifier(id, fieldName string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > MaxIdentifierLength {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, MaxIdentifierLength)
	}
	if !IdentifierRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", fieldName)
	}
	return nil
}

// ValidateJSONPayload requires a present, well-formed JSON value no larger
// than maxBytes. A literal null counts as missing.
func ValidateJSONPayload(raw json.RawMessage, maxBytes int, fieldName string) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if maxBytes > 0 && len(raw) > maxBytes {
		return fmt.Errorf("%s is too large (max %d bytes)", fieldName, maxBytes)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("%s is not valid JSON", fieldName)
	}
	return nil
}
