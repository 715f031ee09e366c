package pdp

import (
	"fmt"
	"strings"
)

// InputError reports a malformed or missing required attribute. Requests
// that fail validation are rejected before evaluation and never default to
// allow.
type InputError struct {
	Field  string
	Detail string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Detail)
}

func inputErr(field, detail string) *InputError {
	return &InputError{Field: field, Detail: detail}
}

// BundleError reports a bundle that failed verification: expired, unsigned,
// unknown key version or unsupported algorithm. The store fails closed on
// these.
type BundleError struct {
	Version string
	Reasons []string
}

func (e *BundleError) Error() string {
	return fmt.Sprintf("bundle %s rejected: %s", e.Version, strings.Join(e.Reasons, "; "))
}
