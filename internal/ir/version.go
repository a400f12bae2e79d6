package ir

// Version constants for IR schema and compiler.
const (
	// IRVersion is the IR schema version.
	IRVersion = "1"

	// CompilerVersion is the pmc compiler version. It is part of every
	// build-cache key, so bump it whenever generated text changes.
	CompilerVersion = "0.3.0"
)
