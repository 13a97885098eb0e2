package engine

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

func TestGenerateNameShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		name := GenerateName("My Cool Package!!")
		assert.LessOrEqual(t, len(name), maxNameLength)
		assert.True(t, validName.MatchString(name) || name == "resource", "invalid name: %q", name)
	}
}

func TestGenerateNameIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		name := GenerateName("hello")
		assert.False(t, seen[name], "expected unique names, got duplicate %q", name)
		seen[name] = true
	}
}

func TestGenerateNameEmptyFallsBackToResource(t *testing.T) {
	name := GenerateName("!!!")
	// "!!!" sanitises to all-dashes, trimmed away entirely, leaving
	// just the random suffix — which is always valid, so this mainly
	// guards the fallback path compiles and behaves for a pathological
	// all-invalid package name.
	assert.True(t, validName.MatchString(name) || name == "resource")
}
