package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeHTMLRemovesScriptBlocks(t *testing.T) {
	out := SanitizeHTML(`<p>Hello</p><script>steal()</script><p>World</p>`)
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "steal")
	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "World")
}

func TestSanitizeHTMLRemovesEventHandlers(t *testing.T) {
	out := SanitizeHTML(`<div onclick="steal()">Click me</div>`)
	assert.NotContains(t, out, "onclick")
	assert.Contains(t, out, "Click me")
}

func TestSanitizeHTMLNeutralizesJavascriptURLs(t *testing.T) {
	out := SanitizeHTML(`<a href="javascript:alert(1)">link</a>`)
	assert.NotContains(t, out, "javascript:")
	assert.Contains(t, out, "link")
}

func TestSanitizeHTMLNeutralizesDataURLs(t *testing.T) {
	out := SanitizeHTML(`<a href="data:text/html;base64,PHNjcmlwdD4=">link</a>`)
	assert.NotContains(t, out, "data:text/html")
}

func TestSanitizeHTMLKeepsAllowedMarkup(t *testing.T) {
	in := `<p>Hello <strong>there</strong></p><a href="https://example.com" title="x">site</a><table><tr><td>1</td></tr></table>`
	out := SanitizeHTML(in)
	assert.Contains(t, out, "<strong>there</strong>")
	assert.Contains(t, out, `href="https://example.com"`)
	assert.Contains(t, out, "<td>1</td>")
}

func TestSanitizeHTMLStripsUnknownTags(t *testing.T) {
	out := SanitizeHTML(`<p>Body</p><iframe src="https://evil.test"></iframe><object data="x"></object>`)
	assert.NotContains(t, out, "iframe")
	assert.NotContains(t, out, "object")
	assert.Contains(t, out, "Body")
}

func TestSanitizeCSSAllowsPlainStyles(t *testing.T) {
	css := `.header { color: #2563eb; font-size: 14px; }`
	out, err := SanitizeCSS(css)
	require.NoError(t, err)
	assert.Equal(t, css, out)
}

func TestSanitizeCSSRejectsDangerousConstructs(t *testing.T) {
	cases := []string{
		`width: expression(alert(1));`,
		`@import url(https://evil.test/x.css);`,
		`behavior: url(x.htc);`,
		`background: url("javascript:alert(1)");`,
		`background: url(data:text/html;base64,x);`,
	}
	for _, css := range cases {
		_, err := SanitizeCSS(css)
		assert.Error(t, err, css)
	}
}

func TestSanitizeCSSRejectsOversizedBlocks(t *testing.T) {
	big := make([]byte, 10001)
	for i := range big {
		big[i] = 'a'
	}
	_, err := SanitizeCSS(string(big))
	require.Error(t, err)
}
