package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInjectTrackingAppendsPixelAndWrapsLinks(t *testing.T) {
	html := `<p>Hello</p><a href="https://example.com/page?x=1">Read more</a>`

	out := InjectTracking(html, "https://schoolmail.test", "tok-1")

	assert.Contains(t, out, `<img src="https://schoolmail.test/track/open/tok-1"`)
	assert.Contains(t, out, `<a href="https://schoolmail.test/track/click/tok-1?url=https%3A%2F%2Fexample.com%2Fpage%3Fx%3D1"`)
	assert.NotContains(t, out, `href="https://example.com/page?x=1"`)
}

func TestInjectTrackingLeavesTrackerLinksAlone(t *testing.T) {
	html := `<a href="https://schoolmail.test/track/click/tok-1?url=x">already tracked</a>`

	out := InjectTracking(html, "https://schoolmail.test", "tok-1")

	assert.NotContains(t, out, "url=https%3A%2F%2Fschoolmail.test%2Ftrack")
}

func TestInjectTrackingHandlesLinklessHTML(t *testing.T) {
	out := InjectTracking("<p>no links here</p>", "https://schoolmail.test", "tok-2")
	assert.Contains(t, out, "<p>no links here</p>")
	assert.Contains(t, out, "/track/open/tok-2")
}
