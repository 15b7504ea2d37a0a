package buildinfo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringContainsAentropydBanner(t *testing.T) {
	var s = String()
	assert.True(t, strings.HasPrefix(s, "aentropyd - version "))
}

func TestStringFallsBackWhenVersionUnset(t *testing.T) {
	Version = ""
	var s = String()
	assert.Contains(t, s, "!UNKNOWN!")
}

func TestStringReflectsOverriddenVersion(t *testing.T) {
	var old = Version
	defer func() { Version = old }()

	Version = "9.9.9"
	assert.Contains(t, String(), "9.9.9")
}
