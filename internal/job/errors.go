package job

import "fmt"

// ConfigurationError reports malformed job configuration: a bad descriptor,
// an unparsable requirement expression, or a cyclic category chain. It is
// surfaced to the caller and never retried.
type ConfigurationError struct {
	// What names the artifact that failed to parse.
	What string
	// Reason is a human-readable explanation.
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.What, e.Reason)
}
