package text

// ErrorKind classifies why text was rejected.
type ErrorKind string

const (
	KindEmpty        ErrorKind = "EMPTY"
	KindTooLong      ErrorKind = "TOO_LONG"
	KindInvalidLimit ErrorKind = "INVALID_LIMIT"
)

// ChunkingError rejects input before any job or preview is created.
type ChunkingError struct {
	Kind    ErrorKind
	Message string
}

func (e *ChunkingError) Error() string {
	return "chunking: " + e.Message
}
