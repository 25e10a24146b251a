package version

var (
	// Version is set at build time via -ldflags.
	Version = "v0.0.0"
	// GitCommit is set at build time via -ldflags.
	GitCommit = ""
)
