// Package buildinfo holds build-time metadata injected at startup.
package buildinfo

import (
	"fmt"
	"runtime"
)

// UnknownValue is reported for metadata that was not injected.
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string
}

// GetVersion returns the build version or UnknownValue.
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date or UnknownValue.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// String formats the metadata for the version command.
func (c *Context) String() string {
	return fmt.Sprintf("coughdetect %s (built %s, %s %s/%s)",
		c.GetVersion(), c.GetBuildDate(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
