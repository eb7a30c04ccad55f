package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_BasicHTML(t *testing.T) {
	p := NewHTMLParser()

	text, err := p.Parse("<html><body><p>Hello</p><p>World</p></body></html>")
	require.NoError(t, err)
	assert.Equal(t, "Hello\nWorld", text)
}

func TestParse_StripsNonContent(t *testing.T) {
	p := NewHTMLParser()

	html := `<html><head><title>ignored</title><style>body{color:red}</style></head>
<body><script>alert(1)</script><p>Visible text</p><img src="x.png" alt="pic"></body></html>`

	text, err := p.Parse(html)
	require.NoError(t, err)
	assert.Equal(t, "Visible text", text)
}

func TestParse_AnchorKeepsTextOnly(t *testing.T) {
	p := NewHTMLParser()

	text, err := p.Parse(`<p>Please <a href="https://example.com/pay?id=1">pay your rent</a> today</p>`)
	require.NoError(t, err)
	assert.Equal(t, "Please pay your rent today", text)
	assert.NotContains(t, text, "example.com")
}

func TestParse_CollapsesWhitespace(t *testing.T) {
	p := NewHTMLParser()

	html := "<div>Line   one</div><div></div><div></div><div>Line two</div>"
	text, err := p.Parse(html)
	require.NoError(t, err)
	assert.Equal(t, "Line one\nLine two", text)
}

func TestParse_RemovesInvisibleCharacters(t *testing.T) {
	p := NewHTMLParser()

	text, err := p.Parse("<p>nor​mal</p>")
	require.NoError(t, err)
	assert.Equal(t, "normal", text)
}

func TestParse_EmptyInput(t *testing.T) {
	p := NewHTMLParser()

	text, err := p.Parse("")
	require.NoError(t, err)
	assert.Empty(t, text)
}
