package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolmail/models"
)

func sampleSchool() *models.School {
	return &models.School{
		Name:           "Riverside Academy",
		ContactEmail:   "office@riverside.test",
		PrimaryColor:   "#123456",
		SecondaryColor: "#654321",
	}
}

func TestBuildTemplateContextLayersValues(t *testing.T) {
	school := sampleSchool()
	ctx := BuildTemplateContext(school, map[string]interface{}{
		"school_name": "Override Name",
		"extra":       "value",
	}, "https://riverside.test")

	// Caller variables override school branding
	assert.Equal(t, "Override Name", ctx["school_name"])
	assert.Equal(t, "value", ctx["extra"])
	assert.Equal(t, "https://riverside.test", ctx["site_url"])
	assert.Equal(t, "#123456", ctx["primary_color"])
	assert.Equal(t, "SchoolMail", ctx["platform_name"])
}

func TestRenderEmailTemplateProducesAllParts(t *testing.T) {
	tmpl := &models.SchoolEmailTemplate{
		TemplateType:      models.TemplateWelcome,
		SubjectTemplate:   "Welcome to {{ school_name }}",
		HTMLContent:       "<p>Hi {{ teacher_name }}, glad to have you at {{ school_name }}.</p>",
		TextContent:       "Hi {{ teacher_name }}, glad to have you at {{ school_name }}.",
		UseSchoolBranding: true,
	}

	rendered, err := RenderEmailTemplate(tmpl, sampleSchool(), map[string]interface{}{
		"teacher_name": "Ada",
	})
	require.NoError(t, err)

	assert.Equal(t, "Welcome to Riverside Academy", rendered.Subject)
	assert.Contains(t, rendered.HTML, "Hi Ada")
	assert.Contains(t, rendered.HTML, "<!DOCTYPE html>")
	assert.Contains(t, rendered.HTML, "#123456") // branding CSS
	assert.Contains(t, rendered.Text, "Hi Ada")
	assert.NotContains(t, rendered.Text, "<p>")
}

func TestRenderEmailTemplateStripsMarkupFromSubject(t *testing.T) {
	tmpl := &models.SchoolEmailTemplate{
		SubjectTemplate: "<b>Welcome</b>   to\n{{ school_name }}",
		HTMLContent:     "<p>Body</p>",
	}

	rendered, err := RenderEmailTemplate(tmpl, sampleSchool(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Welcome to Riverside Academy", rendered.Subject)
}

func TestRenderEmailTemplateTruncatesLongSubjects(t *testing.T) {
	tmpl := &models.SchoolEmailTemplate{
		SubjectTemplate: strings.Repeat("long subject ", 40),
		HTMLContent:     "<p>Body</p>",
	}

	rendered, err := RenderEmailTemplate(tmpl, sampleSchool(), nil)
	require.NoError(t, err)
	assert.Equal(t, 300, utf8.RuneCountInString(rendered.Subject))
	assert.True(t, strings.HasSuffix(rendered.Subject, "..."))
}

func TestRenderEmailTemplateSubjectTruncationIsRuneSafe(t *testing.T) {
	// 200 accented characters are 400 bytes but still under the
	// character limit; they must pass through untouched.
	short := &models.SchoolEmailTemplate{
		SubjectTemplate: strings.Repeat("é", 200),
		HTMLContent:     "<p>Body</p>",
	}
	rendered, err := RenderEmailTemplate(short, sampleSchool(), nil)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 200), rendered.Subject)

	long := &models.SchoolEmailTemplate{
		SubjectTemplate: strings.Repeat("é", 400),
		HTMLContent:     "<p>Body</p>",
	}
	rendered, err = RenderEmailTemplate(long, sampleSchool(), nil)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(rendered.Subject))
	assert.Equal(t, 300, utf8.RuneCountInString(rendered.Subject))
	assert.Equal(t, strings.Repeat("é", 297)+"...", rendered.Subject)
}

func TestRenderEmailTemplateSubjectFallsBackWhenEmpty(t *testing.T) {
	tmpl := &models.SchoolEmailTemplate{
		SubjectTemplate: "{{ missing_variable }}",
		HTMLContent:     "<p>Body</p>",
	}

	rendered, err := RenderEmailTemplate(tmpl, sampleSchool(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Message from Riverside Academy", rendered.Subject)
}

func TestRenderEmailTemplatePropagatesSecurityErrors(t *testing.T) {
	tmpl := &models.SchoolEmailTemplate{
		SubjectTemplate: `{{ settings.SECRET_KEY }}`,
		HTMLContent:     "<p>Body</p>",
	}

	_, err := RenderEmailTemplate(tmpl, sampleSchool(), nil)
	require.Error(t, err)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestRenderEmailTemplateRejectsCallableContext(t *testing.T) {
	tmpl := &models.SchoolEmailTemplate{
		SubjectTemplate: "Hello",
		HTMLContent:     "<p>Body</p>",
	}

	_, err := RenderEmailTemplate(tmpl, sampleSchool(), map[string]interface{}{
		"cb": func() {},
	})
	require.Error(t, err)
}

func TestRenderEmailTemplateHTMLFallsBackOnUnsafeBody(t *testing.T) {
	tmpl := &models.SchoolEmailTemplate{
		SubjectTemplate: "Hello",
		HTMLContent:     `{% load evil %}`,
	}

	rendered, err := RenderEmailTemplate(tmpl, sampleSchool(), nil)
	require.NoError(t, err)
	assert.Contains(t, rendered.HTML, "Message from Riverside Academy")
	assert.NotContains(t, rendered.HTML, "load")
}

func TestRenderEmailTemplateTextFallsBackWhenMissing(t *testing.T) {
	tmpl := &models.SchoolEmailTemplate{
		SubjectTemplate: "Hello",
		HTMLContent:     "<p>Body</p>",
	}

	rendered, err := RenderEmailTemplate(tmpl, sampleSchool(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Message from Riverside Academy", rendered.Text)
}

func TestRenderEmailTemplateAppliesCustomCSS(t *testing.T) {
	tmpl := &models.SchoolEmailTemplate{
		SubjectTemplate: "Hello",
		HTMLContent:     "<p>Body</p>",
		CustomCSS:       ".note { color: #ff0000; }",
	}

	rendered, err := RenderEmailTemplate(tmpl, sampleSchool(), nil)
	require.NoError(t, err)
	assert.Contains(t, rendered.HTML, ".note { color: #ff0000; }")
}

func TestRenderEmailTemplateDropsDangerousCustomCSS(t *testing.T) {
	tmpl := &models.SchoolEmailTemplate{
		SubjectTemplate: "Hello",
		HTMLContent:     "<p>Body</p>",
		CustomCSS:       "@import url(https://evil.test/x.css);",
	}

	rendered, err := RenderEmailTemplate(tmpl, sampleSchool(), nil)
	require.NoError(t, err)
	assert.NotContains(t, rendered.HTML, "@import")
}
