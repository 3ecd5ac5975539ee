// Package util provides utility functions for working with Package URLs (PURLs),
// ecosystem naming, CVSS scoring and extracting settings from the environment.
//
//revive:disable-next-line:var-naming
package util

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/package-url/packageurl-go"
)

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// GetEnvInt reads an integer env var, falling back to defVal when unset or malformed
func GetEnvInt(key string, defVal int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defVal
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return defVal
	}
	return n
}

// GetEnvFloat reads a float env var, falling back to defVal when unset or malformed
func GetEnvFloat(key string, defVal float64) float64 {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defVal
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return defVal
	}
	return f
}

// GetEnvDuration reads a duration env var ("30s", "24h"), falling back to defVal when unset or malformed
func GetEnvDuration(key string, defVal time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defVal
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return defVal
	}
	return d
}

// IsEmpty checks if a string is empty or contains only whitespace
func IsEmpty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// ParsePURL parses a PURL string and returns the parsed PackageURL
func ParsePURL(purlStr string) (*packageurl.PackageURL, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// PurlPackageName joins a PURL's namespace and name the way the ecosystem's registry spells it:
// maven "group:artifact", npm "@scope/name", go "host/path/name".
func PurlPackageName(p packageurl.PackageURL) string {
	if p.Namespace == "" {
		return p.Name
	}
	switch p.Type {
	case packageurl.TypeMaven:
		return p.Namespace + ":" + p.Name
	case packageurl.TypeNPM:
		ns := p.Namespace
		if !strings.HasPrefix(ns, "@") {
			ns = "@" + ns
		}
		return ns + "/" + p.Name
	default:
		return p.Namespace + "/" + p.Name
	}
}

// BuildPURL constructs a PURL string for a package in an ecosystem, splitting namespaced names
// (maven group:artifact, npm @scope/name, go module paths) back into PURL namespace and name.
func BuildPURL(ecosystem, name, version string) string {
	purlType := EcosystemToPurlType(ecosystem)
	namespace := ""

	switch purlType {
	case packageurl.TypeMaven:
		if idx := strings.Index(name, ":"); idx > 0 {
			namespace, name = name[:idx], name[idx+1:]
		}
	case packageurl.TypeNPM, packageurl.TypeGolang:
		if idx := strings.LastIndex(name, "/"); idx > 0 {
			namespace, name = name[:idx], name[idx+1:]
		}
	}

	return packageurl.NewPackageURL(purlType, namespace, name, version, nil, "").ToString()
}
