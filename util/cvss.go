package util

import (
	"strings"

	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"
)

// ScoreVector returns the base score of a CVSS 3.x or 4.0 vector, or 0 when the vector is
// missing, of another version, or malformed.
func ScoreVector(vector string) float64 {
	switch {
	case strings.HasPrefix(vector, "CVSS:3.0/"), strings.HasPrefix(vector, "CVSS:3.1/"):
		v, err := gocvss31.ParseVector(vector)
		if err != nil {
			return 0
		}
		return v.BaseScore()
	case strings.HasPrefix(vector, "CVSS:4.0/"):
		v, err := gocvss40.ParseVector(vector)
		if err != nil {
			return 0
		}
		return v.Score()
	}
	return 0
}

// HighestCVSS scores every vector and returns the highest score with the vector that produced it.
func HighestCVSS(vectors []string) (float64, string) {
	var best float64
	var bestVector string
	for _, v := range vectors {
		if score := ScoreVector(v); score > best {
			best, bestVector = score, v
		}
	}
	return best, bestVector
}

// NormalizeSeverityLabel maps advisory-database severity labels onto the rating scale.
// GitHub advisories say MODERATE where CVSS says MEDIUM.
func NormalizeSeverityLabel(label string) string {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "CRITICAL":
		return "CRITICAL"
	case "HIGH", "IMPORTANT":
		return "HIGH"
	case "MEDIUM", "MODERATE":
		return "MEDIUM"
	case "LOW":
		return "LOW"
	case "NONE", "INFO", "INFORMATIONAL":
		return "INFO"
	default:
		return ""
	}
}
