package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// GenerateTrackingPixelURL generates a tracking pixel URL for email opens
func GenerateTrackingPixelURL(baseURL, token string) string {
	return fmt.Sprintf("%s/track/open/%s", baseURL, token)
}

// GenerateClickTrackURL generates a tracked URL for links
func GenerateClickTrackURL(baseURL, token, originalURL string) string {
	return fmt.Sprintf("%s/track/click/%s?url=%s", baseURL, token, url.QueryEscape(originalURL))
}

// InjectTracking rewrites links through the click tracker and adds the
// open-tracking pixel to rendered HTML, inside <body> when the content
// is a full document.
func InjectTracking(htmlContent, baseURL, token string) string {
	pixelURL := GenerateTrackingPixelURL(baseURL, token)
	trackingPixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)

	modified := injectClickTracking(htmlContent, baseURL, token)
	if idx := strings.LastIndex(modified, "</body>"); idx != -1 {
		return modified[:idx] + trackingPixel + modified[idx:]
	}
	return modified + trackingPixel
}

func injectClickTracking(html, baseURL, token string) string {
	const startTag = `<a href="`
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], `"`)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		// Don't re-wrap links that already point at the tracker.
		if strings.HasPrefix(originalURL, baseURL+"/track/") {
			offset = endIdx
			continue
		}
		trackedURL := GenerateClickTrackURL(baseURL, token, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
