package threshold

import "strings"

// DefinitionErrors collects every invalid threshold of a test.
type DefinitionErrors struct {
	Errors []error
}

func (e *DefinitionErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e *DefinitionErrors) Unwrap() []error {
	return e.Errors
}
