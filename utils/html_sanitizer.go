package utils

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Tags allowed in rendered email bodies. Everything else is stripped,
// preserving the enclosed text.
var allowedHTMLTags = []string{
	"p", "br", "hr", "strong", "b", "em", "i", "u", "span", "div",
	"h1", "h2", "h3", "h4", "h5", "h6",
	"ul", "ol", "li",
	"a", "img",
	"table", "thead", "tbody", "tfoot", "tr", "th", "td",
	"blockquote", "pre", "code",
}

// Inline style properties that survive sanitization.
var allowedStyleProperties = []string{
	"color", "background-color", "font-size", "font-family", "font-weight",
	"font-style", "text-align", "text-decoration", "line-height",
	"letter-spacing", "margin", "margin-top", "margin-bottom", "margin-left",
	"margin-right", "padding", "padding-top", "padding-bottom",
	"padding-left", "padding-right", "border", "border-radius", "width",
	"height", "max-width", "display",
}

var (
	scriptBlockRe  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	styleBlockRe   = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	jsProtocolRe   = regexp.MustCompile(`(?i)javascript\s*:`)
	dataHrefRe     = regexp.MustCompile(`(?i)(href\s*=\s*["'])data:[^"']*(["'])`)
	styleDangerRe  = regexp.MustCompile(`(?i)expression\s*\(|behavior\s*:|-moz-binding|url\s*\(\s*["']?\s*(javascript|data):`)
	eventHandlerRe = regexp.MustCompile(`(?i)\s*on(click|load|error|mouseover|mouseout|focus|blur|submit|change|input|keydown|keyup)\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
)

var emailHTMLPolicy = buildEmailHTMLPolicy()

func buildEmailHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(allowedHTMLTags...)

	p.AllowAttrs("href", "title", "target").OnElements("a")
	p.AllowAttrs("src", "alt", "width", "height").OnElements("img")
	p.AllowAttrs("colspan", "rowspan", "align", "valign").OnElements("th", "td")
	p.AllowAttrs("width", "cellpadding", "cellspacing", "border", "align").OnElements("table")
	p.AllowAttrs("class").Globally()
	p.AllowAttrs("style").Globally()
	p.AllowStyles(allowedStyleProperties...).Globally()

	p.AllowStandardURLs()
	p.AllowRelativeURLs(true)
	return p
}

// SanitizeHTML reduces rendered HTML to the safe email subset. A regex
// pre-pass (script/style blocks, event handlers, javascript: and data:
// URLs) runs before the structural pass so obvious injection vectors
// never reach the parser. Any panic during sanitization falls back to
// fully escaping the original content rather than returning markup.
func SanitizeHTML(content string) (sanitized string) {
	defer func() {
		if r := recover(); r != nil {
			sanitized = html.EscapeString(content)
		}
	}()

	out := scriptBlockRe.ReplaceAllString(content, "")
	out = styleBlockRe.ReplaceAllString(out, "")
	out = eventHandlerRe.ReplaceAllString(out, "")
	out = jsProtocolRe.ReplaceAllString(out, "")
	out = dataHrefRe.ReplaceAllString(out, "${1}#${2}")

	out = emailHTMLPolicy.Sanitize(out)
	return out
}

// SanitizeCSS validates and filters a custom CSS block. Dangerous
// constructs reject the whole block; oversized blocks are rejected too.
func SanitizeCSS(css string) (string, error) {
	const maxCSSLength = 10000
	if len(css) > maxCSSLength {
		return "", &ValidationError{Reason: "custom CSS exceeds maximum length"}
	}
	if styleDangerRe.MatchString(css) {
		return "", &ValidationError{Reason: "custom CSS contains a disallowed construct"}
	}
	if strings.Contains(strings.ToLower(css), "@import") {
		return "", &ValidationError{Reason: "custom CSS contains a disallowed construct"}
	}
	if jsProtocolRe.MatchString(css) {
		return "", &ValidationError{Reason: "custom CSS contains a disallowed construct"}
	}
	return css, nil
}
