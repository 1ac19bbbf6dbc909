package graph

import "fmt"

// InvalidError reports a graph that cannot be resolved: duplicate providers,
// unresolved requirements, or cycles. It is raised before any task runs.
type InvalidError struct {
	msg string
}

func (e *InvalidError) Error() string { return "invalid task graph: " + e.msg }

func invalidf(format string, args ...any) error {
	return &InvalidError{msg: fmt.Sprintf(format, args...)}
}

// IsInvalid reports whether err is a graph validation error.
func IsInvalid(err error) bool {
	_, ok := err.(*InvalidError)
	return ok
}
