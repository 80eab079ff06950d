// Package buildinfo contains build-time metadata separate from user configuration
package buildinfo

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable.
// It is injected at startup through linker flags in main.
type Context struct {
	// version holds the Git version tag from build
	version string

	// buildDate is the time when the binary was built
	buildDate string
}

// NewContext creates a Context from linker-injected values.
func NewContext(version, buildDate string) *Context {
	return &Context{version: version, buildDate: buildDate}
}

// Version returns the build version, or UnknownValue.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build date, or UnknownValue.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// Release is the Sentry release name for this build.
func (c *Context) Release() string {
	return "pendant-go@" + c.Version()
}
