package filter

import (
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"
)

// MaxIdentifierLength caps user supplied map keys
const MaxIdentifierLength = 128

// identifierPattern is the allow list for map keys that end up inside SQL text.
// Letters, digits, underscore, dash and dot; must not start with a dot or dash.
const identifierPattern = `^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`

// ValidateIdentifier checks a user supplied key (property name, score name) before it is
// interpolated into a map/JSON accessor. Such keys cannot be bound as parameters, so
// anything outside the allow list is rejected.
func ValidateIdentifier(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidIdentifier)
	}
	if len(key) > MaxIdentifierLength {
		return fmt.Errorf("%w: key longer than %d characters", ErrInvalidIdentifier, MaxIdentifierLength)
	}
	if !govalidator.Matches(key, identifierPattern) {
		return fmt.Errorf("%w: %q contains characters outside [A-Za-z0-9_.-]", ErrInvalidIdentifier, key)
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q contains a path traversal sequence", ErrInvalidIdentifier, key)
	}
	return nil
}
