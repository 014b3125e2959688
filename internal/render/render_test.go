package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractflow/api/internal/placeholder"
	"contractflow/api/internal/resolve"
)

const scenarioTemplate = `Hello var[{{name}}], sign: var[{{signature}}] and var[{{signature}}]`

func renderWith(doc string, resolved map[string]*resolve.Entry, overrides map[string]string) Result {
	doc = Normalize(doc)
	plan := resolve.Assign(placeholder.Parse(doc), resolved, overrides)
	return Render(doc, plan)
}

func anaEntries() map[string]*resolve.Entry {
	return map[string]*resolve.Entry{
		"name": {Name: "name", OccurrenceKey: "name", Display: "Ana", RawValues: []string{"Ana"}},
	}
}

func TestRenderEmptySignatureBoxes(t *testing.T) {
	res := renderWith(scenarioTemplate, anaEntries(), nil)

	assert.Contains(t, res.HTML, "Hello Ana,")
	assert.Equal(t, 2, strings.Count(res.HTML, `class="cf-box"`))
	assert.Contains(t, res.HTML, `data-cf-occurrence="signature_0"`)
	assert.Contains(t, res.HTML, `data-cf-occurrence="signature_1"`)
	assert.Equal(t, 1, strings.Count(res.HTML, "<style data-cf-style>"))
	assert.Empty(t, res.Unresolved)
}

func TestRenderSignatureOverride(t *testing.T) {
	res := renderWith(scenarioTemplate, anaEntries(), map[string]string{"signature_0": "A.Ray"})

	assert.Contains(t, res.HTML,
		`<span class="cf-input" data-cf-var="signature" data-cf-occurrence="signature_0">A.Ray</span>`)
	assert.Contains(t, res.HTML,
		`<span class="cf-box" data-cf-var="signature" data-cf-occurrence="signature_1">var[{{signature}}]</span>`)
	assert.Equal(t, 1, strings.Count(res.HTML, `class="cf-box"`))
}

func TestRenderImageOverride(t *testing.T) {
	img := "data:image/png;base64,iVBORw0KGgo="
	res := renderWith(`var[{{signature.user}}]`, nil, map[string]string{"signature.user_0": img})

	assert.Contains(t, res.HTML, `<img class="cf-image" data-cf-var="signature.user" data-cf-occurrence="signature.user_0" src="`+img+`"`)
}

func TestRenderEscapesValues(t *testing.T) {
	entries := map[string]*resolve.Entry{
		"clause": {Name: "clause", Display: "<b>Terms</b> & more\nsecond line"},
	}
	res := renderWith(`<p>var[{{clause}}]</p>`, entries, map[string]string{})

	assert.Equal(t, "<p>&lt;b&gt;Terms&lt;/b&gt; &amp; more<br>second line</p>", res.HTML)
}

func TestRenderUnresolved(t *testing.T) {
	res := renderWith(`var[{{unknown}}] var[{{signature.witness}}]`, nil, nil)

	// Only the repeatable signature names have an input behind their box.
	assert.Equal(t, "-- --", res.HTML)
	assert.Equal(t, []string{"unknown", "signature.witness"}, res.Unresolved)
}

func TestRenderQuotedTokenInValueStaysText(t *testing.T) {
	entries := map[string]*resolve.Entry{
		"bio": {Name: "bio", OccurrenceKey: "bio", Display: "see var[{{signature}}] here", RawValues: []string{"see var[{{signature}}] here"}},
	}
	overrides := map[string]string{"signature_0": "A.Ray"}
	doc := `Bio: var[{{bio}}] sign var[{{signature}}]`

	first := renderWith(doc, entries, overrides)
	assert.Contains(t, first.HTML, "Bio: see var&#91;{{signature}}] here sign")
	assert.Len(t, placeholder.Parse(Normalize(first.HTML)), 1)

	// The stored rendering is re-rendered without the record on variable edits.
	second := renderWith(first.HTML, nil, overrides)
	assert.Equal(t, first.HTML, second.HTML)
	assert.Equal(t, 1, strings.Count(second.HTML, "data-cf-occurrence="))
	assert.Contains(t, second.HTML, `data-cf-occurrence="signature_0">A.Ray</span>`)
}

func TestRenderIsIdempotent(t *testing.T) {
	overrides := map[string]string{
		"signature_0": "A.Ray",
		"text_1":      "line one\nline two",
	}
	doc := `<style>p{margin:0}</style><p>var[{{name}}] var[{{text}}] var[{{text}}] var[{{signature}}] var[{{signature}}]</p>`

	first := renderWith(doc, anaEntries(), overrides)
	second := renderWith(first.HTML, anaEntries(), overrides)
	third := renderWith(second.HTML, anaEntries(), overrides)

	assert.Equal(t, first.HTML, second.HTML)
	assert.Equal(t, second.HTML, third.HTML)
}

func TestNormalizeRemovesArtifacts(t *testing.T) {
	first := renderWith(scenarioTemplate, anaEntries(), map[string]string{"signature_0": "A.Ray"})

	normalized := Normalize(first.HTML)
	assert.NotContains(t, normalized, "cf-box")
	assert.NotContains(t, normalized, "cf-input")
	assert.NotContains(t, normalized, "data-cf-style")
	assert.Equal(t, "Hello Ana, sign: var[{{signature}}] and var[{{signature}}]", normalized)

	// A later pass with a new value replaces the old one instead of nesting it.
	again := renderWith(first.HTML, nil, map[string]string{"signature_0": "B.Ray"})
	assert.NotContains(t, again.HTML, "A.Ray")
	assert.Equal(t, 1, strings.Count(again.HTML, "B.Ray"))
	assert.Equal(t, 2, strings.Count(again.HTML, "data-cf-occurrence="))
}

func TestStylesAndStandalone(t *testing.T) {
	doc := `<link rel="stylesheet" href="/c.css"><style>h1{color:red}</style><h1>var[{{signature}}]</h1>`
	res := renderWith(doc, nil, nil)

	require.Len(t, res.Styles, 2)
	assert.Equal(t, `<link rel="stylesheet" href="/c.css">`, res.Styles[0])

	page := Standalone("Contract <1>", res.HTML)
	assert.True(t, strings.HasPrefix(page, "<!doctype html>"))
	assert.Contains(t, page, "<title>Contract &lt;1&gt;</title>")
	head := page[:strings.Index(page, "<body>")]
	assert.Contains(t, head, "<style data-cf-style>")
	assert.Contains(t, head, "h1{color:red}")
	assert.Contains(t, page, `<body><h1><span class="cf-box"`)
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("data:image/png;base64,AAAA"))
	assert.True(t, IsImage("DATA:IMAGE/jpeg;base64,AAAA"))
	assert.False(t, IsImage("data:text/plain,hi"))
	assert.False(t, IsImage("data:image/"))
}
