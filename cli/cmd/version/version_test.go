package version

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/compozy/ragpipe/pkg/version"
)

func TestRender(t *testing.T) {
	t.Run("Should include commit and build date", func(t *testing.T) {
		out := Render(version.Info{Version: "v0.4.0", CommitHash: "abc123", BuildDate: "2026-10-01"})
		assert.Contains(t, out, "v0.4.0 (commit abc123, built 2026-10-01)")
	})
}
