// Package version carries the monitor's build identity, injected at link
// time via -ldflags and printed by the -version flag.
package version

var (
	// Version is the roadwatch release version
	Version = "dev"
	// GitSHA is the commit the binary was built from
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)
