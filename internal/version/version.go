package version

// Build information, set at build time via -ldflags "-X".
var (
	// Version is the semantic version of chatstream.
	Version = "v0.1.0"

	// Commit is the git commit hash.
	Commit = "unknown"

	// BuiltAt is the build timestamp.
	BuiltAt = "unknown"
)

// Info returns the version string.
func Info() string {
	return Version
}

// FullInfo returns complete build information.
func FullInfo() string {
	return "version=" + Version + " commit=" + Commit + " built_at=" + BuiltAt
}
