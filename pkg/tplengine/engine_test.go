package tplengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasTemplate(t *testing.T) {
	t.Run("Should detect template markers", func(t *testing.T) {
		assert.False(t, HasTemplate(""))
		assert.False(t, HasTemplate("plain text"))
		assert.False(t, HasTemplate("Hello {not tmpl}"))
		assert.True(t, HasTemplate("Hello {{ .name }}"))
		assert.True(t, HasTemplate("Hello {{- .name -}}"))
	})
}

func TestTemplateEngine(t *testing.T) {
	t.Run("Should render a registered template", func(t *testing.T) {
		e := NewEngine()
		require.NoError(t, e.AddTemplate("hello", "Hello {{ .name }}"))
		got, err := e.Render("hello", map[string]any{"name": "World"})
		require.NoError(t, err)
		assert.Equal(t, "Hello World", got)
	})

	t.Run("Should fail on missing keys and unknown templates", func(t *testing.T) {
		e := NewEngine()
		require.NoError(t, e.AddTemplate("needs_name", "Hi {{ .name }}"))
		_, err := e.Render("needs_name", map[string]any{})
		assert.ErrorContains(t, err, "map has no entry for key")
		_, err = e.Render("missing", nil)
		assert.ErrorContains(t, err, "template not found")
	})

	t.Run("Should reject malformed templates", func(t *testing.T) {
		e := NewEngine()
		assert.Error(t, e.AddTemplate("bad", "{{ .name "))
		_, err := e.RenderString("{{ if }}", nil)
		assert.Error(t, err)
	})

	t.Run("Should expose sprig functions", func(t *testing.T) {
		e := NewEngine()
		got, err := e.RenderString(`{{ .q | trim | upper }} {{ list "a" "b" | join "," }}`, map[string]any{"q": "  why  "})
		require.NoError(t, err)
		assert.Equal(t, "WHY a,b", got)
	})

	t.Run("Should merge global values below render data", func(t *testing.T) {
		e := NewEngine().WithGlobalValue("who", "global").WithGlobalValue("lang", "en")
		got, err := e.RenderString("{{ .who }}/{{ .lang }}", map[string]any{"who": "local"})
		require.NoError(t, err)
		assert.Equal(t, "local/en", got)
	})

	t.Run("Should return strings without markers unchanged", func(t *testing.T) {
		got, err := NewEngine().RenderString("no templates here", nil)
		require.NoError(t, err)
		assert.Equal(t, "no templates here", got)
	})
}
