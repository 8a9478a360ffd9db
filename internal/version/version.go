// Package version carries the build version, overridden at link time with
// -ldflags "-X github.com/lanegate/lanegate/internal/version.Value=...".
package version

var Value = "dev"
