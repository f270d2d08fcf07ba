// Package version holds the broker version, set at build time with
// -ldflags "-X github.com/nuketown/broker/internal/version.Version=v0.3.0".
package version

// Version defaults to "dev" for local builds.
var Version = "dev"
