// Package model - error taxonomy shared by the resolver, the vulnerability tiers and the stores.
package model

import (
	"errors"
	"fmt"
)

// Sentinel errors. Node-local failures are recorded as flags on the result; these are used to
// classify the cause at component boundaries.
var (
	ErrRegistryUnavailable            = errors.New("registry unavailable")
	ErrVulnerabilitySourceUnavailable = errors.New("vulnerability source unavailable")
	ErrCacheCorruption                = errors.New("cache entry corrupt")
	ErrUnsupportedEcosystem           = errors.New("unsupported ecosystem")
	ErrTierUnavailable                = errors.New("tier not applicable to target")
	ErrNotFound                       = errors.New("not found")
)

// ParseError reports a malformed identity, version or range. At the root of a scan it is fatal;
// anywhere else it is recorded on the node.
type ParseError struct {
	Kind   string
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %q: %s", e.Kind, e.Input, e.Reason)
}

// IsParseError reports whether err wraps a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
