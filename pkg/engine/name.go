package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	invalidChars = regexp.MustCompile(`[^a-z0-9.-]`)
	trimPattern  = regexp.MustCompile(`^[^a-z0-9]+|[^a-z0-9]+$`)
)

const maxNameLength = 253

// GenerateName builds a DNS-label-safe task id from a package name:
// lowercase(name) + "-" + the first 7 hex characters of a fresh
// random UUID's sha256, sanitised to [a-z0-9.-], with leading and
// trailing non-alphanumerics stripped and the result capped at 253
// characters. An empty result falls back to "resource"; since the hex
// suffix always survives sanitising, a package name with no valid
// characters at all yields the bare suffix rather than "resource".
func GenerateName(packageName string) string {
	sum := sha256.Sum256([]byte(uuid.New().String()))
	suffix := hex.EncodeToString(sum[:])[:7]

	name := strings.ToLower(packageName) + "-" + suffix
	name = invalidChars.ReplaceAllString(name, "-")
	name = trimPattern.ReplaceAllString(name, "")

	if len(name) > maxNameLength {
		name = name[:maxNameLength]
		name = trimPattern.ReplaceAllString(name, "")
	}

	if name == "" {
		return "resource"
	}
	return name
}
