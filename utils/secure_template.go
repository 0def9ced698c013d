package utils

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/flosch/pongo2/v6"
)

// ValidationError reports unsafe or malformed template content. The
// message is safe to show to school admins; engine-internal error text
// is never propagated through it.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "template validation failed: " + e.Reason
}

const (
	maxTemplateLength = 50000
	maxNestingDepth   = 10
)

// Tags a school-authored template may use. Anything outside this list
// is rejected even if the engine could parse it.
var allowedTemplateTags = map[string]bool{
	"if": true, "endif": true, "else": true, "elif": true,
	"for": true, "endfor": true, "empty": true,
	"with": true, "endwith": true,
	"comment": true, "endcomment": true,
	"now":      true,
	"spaceless": true, "endspaceless": true,
	"firstof":   true,
	"ifequal":   true, "endifequal": true,
	"ifnotequal": true, "endifnotequal": true,
	"ifchanged":  true, "endifchanged": true,
	"regroup":    true,
	"autoescape": true, "endautoescape": true,
	"cycle":  true,
	"filter": true, "endfilter": true,
}

// Filters that cannot execute code, touch the filesystem or reach the
// application runtime.
var allowedTemplateFilters = map[string]bool{
	"add": true, "addslashes": true, "capfirst": true, "center": true,
	"cut": true, "date": true, "default": true, "default_if_none": true,
	"divisibleby": true, "escape": true, "first": true, "float": true,
	"floatformat": true, "get_digit": true, "integer": true, "join": true,
	"last": true, "length": true, "length_is": true, "linebreaks": true,
	"linebreaksbr": true, "linenumbers": true, "ljust": true, "lower": true,
	"make_list": true, "pluralize": true, "random": true, "removetags": true,
	"rjust": true, "safe": true, "slice": true, "slugify": true,
	"stringformat": true, "striptags": true, "time": true, "title": true,
	"truncatechars": true, "truncatewords": true, "upper": true,
	"urlencode": true, "wordcount": true, "wordwrap": true, "yesno": true,
}

// Context keys that shadow runtime built-ins are never accepted.
var reservedContextNames = map[string]bool{
	"eval": true, "exec": true, "open": true, "compile": true,
	"globals": true, "locals": true, "vars": true, "dir": true,
	"import": true, "input": true, "file": true,
}

// Signatures of dangerous constructs scanned against the raw template
// text. Grouped: code execution and reflection, ORM escape, secret and
// session access, markup injection, CSS injection, shell injection.
var dangerousTemplatePatterns = []*regexp.Regexp{
	// Code execution / reflection
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bexec\s*\(`),
	regexp.MustCompile(`(?i)\bcompile\s*\(`),
	regexp.MustCompile(`(?i)__import__`),
	regexp.MustCompile(`(?i)\bimportlib\b`),
	regexp.MustCompile(`(?i)\bgetattr\s*\(`),
	regexp.MustCompile(`(?i)\bsetattr\s*\(`),
	regexp.MustCompile(`(?i)\bdelattr\s*\(`),
	regexp.MustCompile(`(?i)\bhasattr\s*\(`),
	regexp.MustCompile(`(?i)\bglobals\s*\(`),
	regexp.MustCompile(`(?i)\blocals\s*\(`),
	regexp.MustCompile(`(?i)\bvars\s*\(`),
	regexp.MustCompile(`(?i)\bcallable\s*\(`),
	regexp.MustCompile(`(?i)\bexecfile\s*\(`),
	regexp.MustCompile(`(?i)\binput\s*\(`),
	regexp.MustCompile(`(?i)\bcompile\b.*\bexec\b`),
	regexp.MustCompile(`__[a-zA-Z]+__`),
	regexp.MustCompile(`(?i)\.mro\b`),
	regexp.MustCompile(`(?i)\bsubclasses\b`),
	regexp.MustCompile(`(?i)\bfunc_globals\b`),

	// ORM / data-layer escape attempts
	regexp.MustCompile(`(?i)\.objects\.`),
	regexp.MustCompile(`(?i)\.filter\s*\(`),
	regexp.MustCompile(`(?i)\.exclude\s*\(`),
	regexp.MustCompile(`(?i)\.delete\s*\(`),
	regexp.MustCompile(`(?i)\.save\s*\(`),
	regexp.MustCompile(`(?i)\.update\s*\(`),
	regexp.MustCompile(`(?i)\.raw\s*\(`),
	regexp.MustCompile(`(?i)\.execute\s*\(`),
	regexp.MustCompile(`(?i)\bcursor\s*\(`),
	regexp.MustCompile(`(?i)drop\s+table`),
	regexp.MustCompile(`(?i)truncate\s+table`),

	// Secret / credential / session access
	regexp.MustCompile(`(?i)\.password`),
	regexp.MustCompile(`(?i)\.secret`),
	regexp.MustCompile(`(?i)secret_key`),
	regexp.MustCompile(`(?i)\bsettings\.`),
	regexp.MustCompile(`(?i)request\.session`),
	regexp.MustCompile(`(?i)request\.meta`),
	regexp.MustCompile(`(?i)request\.cookies`),
	regexp.MustCompile(`(?i)\.env\b`),
	regexp.MustCompile(`(?i)\bos\.environ`),
	regexp.MustCompile(`(?i)api[_-]?key`),
	regexp.MustCompile(`(?i)access[_-]?token`),
	regexp.MustCompile(`(?i)private[_-]?key`),

	// Script / markup injection
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?i)\bon(click|load|error|mouseover|focus|blur|submit|change|input|keydown|keyup|dblclick)\s*=`),
	regexp.MustCompile(`(?i)<\s*iframe`),
	regexp.MustCompile(`(?i)<\s*object`),
	regexp.MustCompile(`(?i)<\s*embed`),
	regexp.MustCompile(`(?i)<\s*applet`),
	regexp.MustCompile(`(?i)<\s*meta`),
	regexp.MustCompile(`(?i)<\s*base\b`),
	regexp.MustCompile(`(?i)<\s*form`),
	regexp.MustCompile(`(?i)srcdoc\s*=`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),

	// CSS-based injection
	regexp.MustCompile(`(?i)expression\s*\(`),
	regexp.MustCompile(`(?i)@import`),
	regexp.MustCompile(`(?i)-moz-binding`),
	regexp.MustCompile(`(?i)behavior\s*:`),
	regexp.MustCompile(`(?i)url\s*\(\s*['"]?\s*javascript`),
	regexp.MustCompile(`(?i)url\s*\(\s*['"]?\s*data:`),

	// Shell / command injection
	regexp.MustCompile(`(?i);\s*rm\s+-rf`),
	regexp.MustCompile("`[^`]*`"),
	regexp.MustCompile(`\$\([^)]*\)`),
	regexp.MustCompile(`(?i)&&\s*(rm|cat|curl|wget|nc|bash|sh)\b`),
	regexp.MustCompile(`(?i)\|\|\s*(rm|cat|curl|wget|nc|bash|sh)\b`),
	regexp.MustCompile(`(?i)\bsubprocess\b`),
	regexp.MustCompile(`(?i)\bos\.system`),
	regexp.MustCompile(`(?i)\bpopen\s*\(`),
}

var (
	templateTagRe    = regexp.MustCompile(`\{%\s*(\w+)`)
	templateTokenRe  = regexp.MustCompile(`\{\{[^}]*\}\}|\{%[^}]*%\}`)
	templateFilterRe = regexp.MustCompile(`\|\s*([a-zA-Z_]\w*)`)
	contextKeyRe     = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	dunderKeyRe      = regexp.MustCompile(`^__.*__$`)
)

// Block tags that open a nesting level, mapped to their closers.
var blockTagPairs = map[string]string{
	"if": "endif", "for": "endfor", "with": "endwith",
	"comment": "endcomment", "spaceless": "endspaceless",
	"ifequal": "endifequal", "ifnotequal": "endifnotequal",
	"ifchanged": "endifchanged", "autoescape": "endautoescape",
	"filter": "endfilter",
}

var blockTagClosers = func() map[string]bool {
	m := make(map[string]bool, len(blockTagPairs))
	for _, end := range blockTagPairs {
		m[end] = true
	}
	return m
}()

// ValidateTemplateContent checks school-authored template text against
// the tag and filter allow-lists, the nesting-depth limit and the
// dangerous-pattern signatures. It returns a *ValidationError on the
// first violation found.
func ValidateTemplateContent(content string) error {
	if len(content) > maxTemplateLength {
		return &ValidationError{Reason: fmt.Sprintf("template exceeds maximum length of %d characters", maxTemplateLength)}
	}

	for _, pattern := range dangerousTemplatePatterns {
		if pattern.MatchString(content) {
			return &ValidationError{Reason: "template contains a disallowed construct"}
		}
	}

	depth := 0
	for _, match := range templateTagRe.FindAllStringSubmatch(content, -1) {
		tag := match[1]
		if !allowedTemplateTags[tag] {
			return &ValidationError{Reason: "template tag not allowed: " + tag}
		}
		if _, opens := blockTagPairs[tag]; opens {
			depth++
			if depth > maxNestingDepth {
				return &ValidationError{Reason: fmt.Sprintf("template nesting exceeds maximum depth of %d", maxNestingDepth)}
			}
		} else if blockTagClosers[tag] {
			depth--
		}
	}

	for _, token := range templateTokenRe.FindAllString(content, -1) {
		for _, match := range templateFilterRe.FindAllStringSubmatch(token, -1) {
			if !allowedTemplateFilters[match[1]] {
				return &ValidationError{Reason: "template filter not allowed: " + match[1]}
			}
		}
	}

	if _, err := pongo2.FromString(content); err != nil {
		return &ValidationError{Reason: "template syntax is invalid"}
	}
	return nil
}

// SanitizeContext returns a copy of ctx safe to hand to the template
// engine: keys are checked against the identifier rules and every value
// is recursively sanitized. String escaping is normalize-then-escape,
// so sanitizing an already sanitized context is a no-op.
func SanitizeContext(ctx map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(ctx))
	for key, value := range ctx {
		if err := validateContextKey(key); err != nil {
			return nil, err
		}
		sanitized, err := sanitizeContextValue(value)
		if err != nil {
			return nil, err
		}
		out[key] = sanitized
	}
	return out, nil
}

// ValidateContextVariables is the strict pass applied to caller-supplied
// context objects before rendering: beyond the sanitization rules it
// rejects callables outright instead of stringifying them.
func ValidateContextVariables(ctx map[string]interface{}) error {
	for key, value := range ctx {
		if err := validateContextKey(key); err != nil {
			return err
		}
		if err := rejectCallables(key, value); err != nil {
			return err
		}
	}
	return nil
}

func validateContextKey(key string) error {
	if !contextKeyRe.MatchString(key) {
		return &ValidationError{Reason: "invalid context variable name: " + key}
	}
	if dunderKeyRe.MatchString(key) {
		return &ValidationError{Reason: "context variable name not allowed: " + key}
	}
	if reservedContextNames[key] {
		return &ValidationError{Reason: "context variable name is reserved: " + key}
	}
	return nil
}

func rejectCallables(key string, value interface{}) error {
	switch v := value.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	case []interface{}:
		for _, item := range v {
			if err := rejectCallables(key, item); err != nil {
				return err
			}
		}
		return nil
	case map[string]interface{}:
		for k, item := range v {
			if err := validateContextKey(k); err != nil {
				return err
			}
			if err := rejectCallables(k, item); err != nil {
				return err
			}
		}
		return nil
	default:
		if isCallable(value) {
			return &ValidationError{Reason: "context variable is callable: " + key}
		}
		return nil
	}
}

func isCallable(value interface{}) bool {
	if value == nil {
		return false
	}
	kind := fmt.Sprintf("%T", value)
	return strings.HasPrefix(kind, "func(") || strings.HasPrefix(kind, "chan ")
}

func sanitizeContextValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return escapeOnce(v), nil
	case bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			sanitized, err := sanitizeContextValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = sanitized
		}
		return out, nil
	case []string:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = escapeOnce(item)
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			if err := validateContextKey(key); err != nil {
				return nil, err
			}
			sanitized, err := sanitizeContextValue(item)
			if err != nil {
				return nil, err
			}
			out[key] = sanitized
		}
		return out, nil
	default:
		if isCallable(value) {
			return nil, &ValidationError{Reason: "context value is callable"}
		}
		return escapeOnce(fmt.Sprintf("%v", value)), nil
	}
}

// escapeOnce normalizes entities before escaping so repeated
// sanitization never produces &amp;amp; artifacts.
func escapeOnce(s string) string {
	return html.EscapeString(html.UnescapeString(s))
}

// RenderTemplate validates content, sanitizes ctx, and renders with
// autoescape forced according to autoEscape. Sanitized strings are
// marked safe so the engine does not escape them a second time. Engine
// errors are wrapped; the raw engine message never reaches the caller.
func RenderTemplate(content string, ctx map[string]interface{}, autoEscape bool) (string, error) {
	if err := ValidateTemplateContent(content); err != nil {
		return "", err
	}

	sanitized, err := SanitizeContext(ctx)
	if err != nil {
		return "", err
	}

	mode := "off"
	if autoEscape {
		mode = "on"
	}
	wrapped := "{% autoescape " + mode + " %}" + content + "{% endautoescape %}"

	tpl, err := pongo2.FromString(wrapped)
	if err != nil {
		return "", &ValidationError{Reason: "template syntax is invalid"}
	}

	pctx := make(pongo2.Context, len(sanitized))
	for key, value := range sanitized {
		if s, ok := value.(string); ok {
			// Already escaped by SanitizeContext.
			pctx[key] = pongo2.AsSafeValue(s)
			continue
		}
		pctx[key] = value
	}

	rendered, err := tpl.Execute(pctx)
	if err != nil {
		// Not a ValidationError: the content passed validation, the
		// engine failed at execute time. Callers fall back instead of
		// surfacing this to template authors.
		return "", errRenderFailed
	}
	return rendered, nil
}

var errRenderFailed = fmt.Errorf("template rendering failed")
