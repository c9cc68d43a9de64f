package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleHTML = `<html><head>
	<title>Sample Page</title>
	<meta property="og:title" content="Sample Page">
	<meta property="og:description" content="A sample description.">
	<meta name="twitter:card" content="summary">
	<style>body { color: red; }</style>
</head><body>
	<script>var tracked = true;</script>
	<h1>Heading</h1>
	<p>First paragraph with a <a href="https://example.com/next">link</a>.</p>
</body></html>`

func TestToText_StripsScriptsAndStyles(t *testing.T) {
	t.Parallel()

	text, err := ToText(sampleHTML)
	require.NoError(t, err)
	require.Contains(t, text, "Heading")
	require.Contains(t, text, "First paragraph")
	require.NotContains(t, text, "tracked")
	require.NotContains(t, text, "color: red")
}

func TestToMarkdown_ConvertsStructure(t *testing.T) {
	t.Parallel()

	md, err := ToMarkdown(sampleHTML, "https://example.com/")
	require.NoError(t, err)
	require.Contains(t, md, "# Heading")
	require.Contains(t, md, "[link](https://example.com/next)")
}

func TestToMarkdown_EmptyInput(t *testing.T) {
	t.Parallel()

	md, err := ToMarkdown("", "https://example.com/")
	require.NoError(t, err)
	require.Empty(t, md)
}

func TestToDocument_ExtractsMetadata(t *testing.T) {
	t.Parallel()

	doc, err := ToDocument(sampleHTML, "https://example.com/page")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/page", doc.URL)
	require.Equal(t, "Sample Page", doc.Title)
	require.Equal(t, "A sample description.", doc.Description)
	require.Equal(t, "Sample Page", doc.Meta["og:title"])
	require.Equal(t, "summary", doc.Meta["twitter:card"])
	require.Contains(t, doc.Links, "https://example.com/next")
	require.Contains(t, doc.Text, "First paragraph")
	require.NotContains(t, doc.Text, "tracked")
}

func TestToDocument_TitleFallsBackToOpenGraph(t *testing.T) {
	t.Parallel()

	html := `<html><head><meta property="og:title" content="OG Only"></head><body><p>x</p></body></html>`
	doc, err := ToDocument(html, "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, "OG Only", doc.Title)
}

func TestToJSON_ProducesValidJSON(t *testing.T) {
	t.Parallel()

	out, err := ToJSON(sampleHTML, "https://example.com/page")
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Equal(t, "Sample Page", doc.Title)
}

func TestStripTags(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a b", stripTags("<p>a</p>   <p>b</p>"))
}
