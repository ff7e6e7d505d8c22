package ir

// Version constants for IR schema and compiler.
const (
	// IRVersion is the IR schema version.
	IRVersion = "1"

	// CompilerVersion is stamped into generated headers and the manifest.
	// Bump it whenever generated output changes for an unchanged model.
	CompilerVersion = "0.3.0"
)
