// Package version holds the build version, set through ldflags.
package version

// Version is overridden at build time:
//
//	go build -ldflags "-X github.com/junwei-lu/metercal/pkg/version.Version=v1.2.3"
var Version = "dev"
