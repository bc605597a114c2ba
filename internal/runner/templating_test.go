package runner

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadytls/internal/target"
)

func TestRequestTemplate_Static(t *testing.T) {
	u, _ := url.Parse("https://example.com/a")
	cfg := target.Config{Headers: map[string]string{"X-Test": "1"}, Body: "hello"}
	rt, err := newRequestTemplate(NewTemplateEngine(), cfg, u, true)
	require.NoError(t, err)

	a, err := rt.render(TemplateData{VU: 1})
	require.NoError(t, err)
	b, err := rt.render(TemplateData{VU: 2})
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "GET", a.Method)
	assert.Equal(t, "1", a.Header.Get("X-Test"))
	assert.Equal(t, []byte("hello"), a.Body)
	assert.True(t, a.Close)
}

func TestRequestTemplate_Dynamic(t *testing.T) {
	dir := t.TempDir()
	lines := filepath.Join(dir, "names.txt")
	require.NoError(t, os.WriteFile(lines, []byte("\nalice\n\n"), 0o644))

	u, _ := url.Parse("https://example.com/")
	cfg := target.Config{
		Method: "POST",
		Headers: map[string]string{
			"X-VU":   "{{vu}}-{{iteration}}",
			"X-Req":  "{{uuid}}",
			"X-Name": `{{randomLine "` + lines + `"}}`,
		},
		Body: `{"n":{{randomInt 7 8}},"c":"{{randomChoice "x"}}","run":"{{runID}}"}`,
	}
	rt, err := newRequestTemplate(NewTemplateEngine(), cfg, u, false)
	require.NoError(t, err)
	require.Nil(t, rt.static)

	req, err := rt.render(TemplateData{VU: 3, Iteration: 4, UUID: "u-1", RunID: "r-1"})
	require.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "3-4", req.Header.Get("X-VU"))
	assert.Equal(t, "u-1", req.Header.Get("X-Req"))
	assert.Equal(t, "alice", req.Header.Get("X-Name"))
	assert.Equal(t, `{"n":7,"c":"x","run":"r-1"}`, string(req.Body))
	assert.False(t, req.Close)
}

func TestRequestTemplate_MissingFile(t *testing.T) {
	u, _ := url.Parse("https://example.com/")
	cfg := target.Config{Body: `{{randomLine "/does/not/exist"}}`}
	rt, err := newRequestTemplate(NewTemplateEngine(), cfg, u, false)
	require.NoError(t, err)

	_, err = rt.render(TemplateData{})
	assert.Error(t, err)
}
