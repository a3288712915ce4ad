// Package buildinfo carries build-time metadata, kept apart from user
// configuration. Values are injected with -ldflags, for example
//
//	-X github.com/vibrolab/daqbench/internal/buildinfo.version=v0.3.0
package buildinfo

import "runtime/debug"

// UnknownValue is reported for metadata not set at build time.
const UnknownValue = "unknown"

var (
	version   string
	buildDate string
)

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	GetVersion() string
	GetBuildDate() string
}

// Context contains build-time metadata that is not user-configurable.
type Context struct {
	// Version holds the git version tag of the build
	Version string

	// BuildDate is the time the binary was built
	BuildDate string
}

// NewContext returns build metadata.
func NewContext(version, buildDate string) *Context {
	return &Context{Version: version, BuildDate: buildDate}
}

// Current returns the metadata linked into this binary. Without ldflags the
// module version recorded by the go tool is used.
func Current() *Context {
	v := version
	if v == "" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "(devel)" {
			v = bi.Main.Version
		}
	}
	return NewContext(v, buildDate)
}

// GetVersion implements BuildInfo.GetVersion
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate implements BuildInfo.GetBuildDate
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}
