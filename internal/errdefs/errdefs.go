// Package errdefs holds error types shared by authkit packages that cannot
// import each other.
package errdefs

import "fmt"

// ConfigurationError reports a setup problem that cannot be recovered from
// inline, such as a missing optional dependency or an unusable base URL.
type ConfigurationError struct {
	// Dependency names the missing piece (a package path, a config field).
	Dependency string
	Message    string
}

func (e *ConfigurationError) Error() string {
	if e.Dependency == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s (missing %s)", e.Message, e.Dependency)
}
