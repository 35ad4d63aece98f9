package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringUsesStampedVersion(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })

	Version = "v1.2.3"
	s := String()
	assert.Contains(t, s, App)
	assert.Contains(t, s, "v1.2.3")
	assert.Contains(t, s, runtime.Version())
}

func TestStringFallsBackWithoutStamp(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })

	Version = ""
	// Under `go test` the module version is unset, so the fallback applies.
	assert.Contains(t, String(), App)
	assert.Contains(t, String(), "dev")
}
