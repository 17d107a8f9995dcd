package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/tether/internal/types"
)

// maxTargetLength bounds the logical endpoint path of a queued action.
const maxTargetLength = 2048

// allowedMethods are the verbs a queued mutation may carry. Reads are
// never queued; they have no replay value.
var allowedMethods = map[string]bool{
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateEnqueueActionRequest checks a dispatch request before it
// reaches the queue. The body payload is opaque; only its JSON
// well-formedness is checked, never its meaning.
func ValidateEnqueueActionRequest(req types.EnqueueActionRequest) []ValidationError {
	var c Collector

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		c.Add(&ValidationError{Field: "method", Message: "is required"})
	} else if !allowedMethods[method] {
		c.Add(&ValidationError{
			Field:   "method",
			Message: fmt.Sprintf("%q is not a queueable verb (POST, PUT, PATCH, DELETE)", req.Method),
		})
	}

	switch {
	case req.Target == "":
		c.Add(&ValidationError{Field: "target", Message: "is required"})
	case !strings.HasPrefix(req.Target, "/"):
		c.Add(&ValidationError{Field: "target", Message: "must be an absolute path"})
	case len(req.Target) > maxTargetLength:
		c.Add(&ValidationError{
			Field:   "target",
			Message: fmt.Sprintf("must be at most %d bytes", maxTargetLength),
		})
	default:
		c.Add(ValidateUTF8("target", req.Target))
		c.Add(ValidateNoNullBytes("target", req.Target))
	}

	if len(req.Body) > 0 && !json.Valid(req.Body) {
		c.Add(&ValidationError{Field: "body", Message: "must be valid JSON"})
	}

	return c.Errors()
}
