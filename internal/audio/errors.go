package audio

// ErrorKind classifies assembly failures. Both kinds are terminal.
type ErrorKind string

const (
	KindInconsistentFormat ErrorKind = "INCONSISTENT_FORMAT"
	KindIncompleteSet      ErrorKind = "INCOMPLETE_SET"
)

type AssemblyError struct {
	Kind    ErrorKind
	Message string
}

func (e *AssemblyError) Error() string {
	return "assembly: " + e.Message
}
