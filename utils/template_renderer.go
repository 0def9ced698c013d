package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"schoolmail/config"
	"schoolmail/models"
)

// RenderedEmail is a ready-to-send subject/html/text triple.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

const maxSubjectLength = 300

var (
	htmlTagRe        = regexp.MustCompile(`<[^>]+>`)
	multiNewlineRe   = regexp.MustCompile(`\n{3,}`)
	spaceRunRe       = regexp.MustCompile(`[ \t]+`)
	whitespaceRunRe  = regexp.MustCompile(`\s+`)
	htmlDocSkeletonRe = regexp.MustCompile(`(?i)<\s*html`)
)

// BuildTemplateContext layers the rendering context: platform defaults,
// then school branding, then caller-supplied variables (which override
// everything), then the optional request-derived site URL.
func BuildTemplateContext(school *models.School, callerCtx map[string]interface{}, siteURL string) map[string]interface{} {
	ctx := map[string]interface{}{
		"platform_name": config.AppConfig.PlatformName,
		"platform_url":  config.AppConfig.PlatformURL,
		"support_email": config.AppConfig.SupportEmail,
		"current_year":  time.Now().Year(),
	}

	if school != nil {
		ctx["school_name"] = school.Name
		ctx["school_email"] = school.ContactEmail
		ctx["school_phone"] = school.ContactPhone
		ctx["school_website"] = school.Website
		ctx["primary_color"] = colorOrDefault(school.PrimaryColor, "#2563eb")
		ctx["secondary_color"] = colorOrDefault(school.SecondaryColor, "#1e40af")
		ctx["school_logo_url"] = school.LogoURL
	}

	for key, value := range callerCtx {
		ctx[key] = value
	}

	if siteURL != "" {
		ctx["site_url"] = siteURL
	}
	return ctx
}

// RenderEmailTemplate produces the subject/html/text triple for a stored
// template. Subject and text failures degrade to a generic branded
// fallback; HTML failures degrade to a static branded notice so the
// recipient never sees internal error detail. A ValidationError from
// the security layer is wrapped and returned for subject rendering,
// since an unsafe template must not be silently papered over.
func RenderEmailTemplate(tmpl *models.SchoolEmailTemplate, school *models.School, ctx map[string]interface{}) (*RenderedEmail, error) {
	if err := ValidateContextVariables(ctx); err != nil {
		return nil, fmt.Errorf("unsafe template context: %w", err)
	}

	full := BuildTemplateContext(school, ctx, stringFromCtx(ctx, "site_url"))
	schoolName := displaySchoolName(school)

	subject, err := renderSubject(tmpl.SubjectTemplate, full, schoolName)
	if err != nil {
		return nil, err
	}

	return &RenderedEmail{
		Subject: subject,
		HTML:    renderHTMLBody(tmpl, school, full, schoolName),
		Text:    renderTextBody(tmpl.TextContent, full, schoolName),
	}, nil
}

func renderSubject(subjectTemplate string, ctx map[string]interface{}, schoolName string) (string, error) {
	rendered, err := RenderTemplate(subjectTemplate, ctx, true)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			return "", fmt.Errorf("subject template is invalid: %w", err)
		}
		return fallbackSubject(schoolName), nil
	}

	subject := htmlTagRe.ReplaceAllString(rendered, "")
	subject = strings.TrimSpace(whitespaceRunRe.ReplaceAllString(subject, " "))
	if subject == "" {
		return fallbackSubject(schoolName), nil
	}
	// Truncate on runes; a byte slice could cut a multi-byte character
	// in half and emit an invalid UTF-8 header.
	if runes := []rune(subject); len(runes) > maxSubjectLength {
		subject = string(runes[:maxSubjectLength-3]) + "..."
	}
	return subject, nil
}

func renderHTMLBody(tmpl *models.SchoolEmailTemplate, school *models.School, ctx map[string]interface{}, schoolName string) string {
	content := tmpl.HTMLContent

	var prefix string
	if tmpl.UseSchoolBranding {
		prefix = brandingCSS(school)
	}
	if tmpl.CustomCSS != "" {
		if css, err := SanitizeCSS(tmpl.CustomCSS); err == nil {
			prefix += "<style>" + css + "</style>"
		}
	}

	rendered, err := RenderTemplate(content, ctx, true)
	if err != nil {
		return fallbackHTMLDocument(schoolName)
	}

	body := SanitizeHTML(rendered)
	return wrapHTMLDocument(prefix, body)
}

func renderTextBody(textTemplate string, ctx map[string]interface{}, schoolName string) string {
	if textTemplate == "" {
		return fallbackSubject(schoolName)
	}
	rendered, err := RenderTemplate(textTemplate, ctx, false)
	if err != nil {
		return fallbackSubject(schoolName)
	}

	text := htmlTagRe.ReplaceAllString(rendered, "")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	if text == "" {
		return fallbackSubject(schoolName)
	}
	return text
}

// brandingCSS builds the style block parameterized by school colors.
func brandingCSS(school *models.School) string {
	primary := "#2563eb"
	secondary := "#1e40af"
	if school != nil {
		primary = colorOrDefault(school.PrimaryColor, primary)
		secondary = colorOrDefault(school.SecondaryColor, secondary)
	}
	return fmt.Sprintf(`<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
h1, h2, h3 { color: %s; }
a { color: %s; }
.button { display: inline-block; padding: 10px 20px; background-color: %s; color: #fff; text-decoration: none; border-radius: 4px; }
.footer { margin-top: 30px; font-size: 12px; color: #7f8c8d; text-align: center; border-top: 1px solid #eee; padding-top: 10px; }
</style>`, primary, secondary, primary)
}

func wrapHTMLDocument(head, body string) string {
	if htmlDocSkeletonRe.MatchString(body) {
		return body
	}
	return `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
` + head + `
</head>
<body>
` + body + `
</body>
</html>`
}

func fallbackHTMLDocument(schoolName string) string {
	return wrapHTMLDocument(brandingCSS(nil), fmt.Sprintf(
		`<p>%s</p><p class="footer">This message was sent by %s.</p>`,
		fallbackSubject(schoolName), schoolName))
}

func fallbackSubject(schoolName string) string {
	return "Message from " + schoolName
}

func displaySchoolName(school *models.School) string {
	if school == nil || school.Name == "" {
		return config.AppConfig.PlatformName
	}
	return school.Name
}

func colorOrDefault(color, fallback string) string {
	if strings.TrimSpace(color) == "" {
		return fallback
	}
	return color
}

func stringFromCtx(ctx map[string]interface{}, key string) string {
	if v, ok := ctx[key].(string); ok {
		return v
	}
	return ""
}
