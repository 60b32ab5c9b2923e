package guardrails

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"
)

// Rejection reasons surfaced to callers and persisted on blocked turns.
const (
	ReasonInjection = "Possible prompt injection detected"
	ReasonSecret    = "Possible secret detected"
	reasonOK        = "OK"
)

// Redaction placeholders. Substitution only touches matched spans and is
// idempotent: none of the placeholders match any of the patterns.
const (
	redactedEmail  = "[redacted-email]"
	redactedPhone  = "[redacted-phone]"
	redactedSecret = "[redacted-secret]"
)

// AssistantOutput is the validated form of a model answer.
type AssistantOutput struct {
	Answer string `json:"answer"`
}

// Engine screens inbound user text for injection attempts and leaked
// secrets, and scrubs PII from both directions of traffic. It holds only
// compiled patterns and is safe for concurrent use.
type Engine struct {
	injectionPatterns []*regexp.Regexp
	secretPatterns    []*regexp.Regexp
	emailPattern      *regexp.Regexp
	phonePattern      *regexp.Regexp
	scriptBlocks      *regexp.Regexp
	styleBlocks       *regexp.Regexp
	htmlTags          *regexp.Regexp
}

// NewEngine compiles the fixed pattern set.
func NewEngine() *Engine {
	injection := []string{
		`ignore\s+(all|any|previous)\s+instructions`,
		`disregard\s+previous\s+instructions`,
		`system\s+prompt`,
		`you\s+are\s+chatgpt`,
		`override\s+the\s+(rules|instructions)`,
		`act\s+as\s+an?\s+(.+)`,
	}
	secrets := []string{
		`sk-[A-Za-z0-9]{20,}`,
		`ghp_[A-Za-z0-9]{36}`,
		`xox[baprs]-[A-Za-z0-9-]{10,}`,
		`AIzaSy[0-9A-Za-z\-_]{35}`,
	}

	e := &Engine{
		emailPattern: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		phonePattern: regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?(?:\(?\d{3}\)?[-.\s]?){2}\d{4}\b`),
		scriptBlocks: regexp.MustCompile(`(?is)<\s*script[^>]*>.*?<\s*/\s*script\s*>`),
		styleBlocks:  regexp.MustCompile(`(?is)<\s*style[^>]*>.*?<\s*/\s*style\s*>`),
		htmlTags:     regexp.MustCompile(`<[^>]+>`),
	}
	for _, pat := range injection {
		e.injectionPatterns = append(e.injectionPatterns, regexp.MustCompile(pat))
	}
	for _, pat := range secrets {
		e.secretPatterns = append(e.secretPatterns, regexp.MustCompile(pat))
	}
	return e
}

// ValidateText checks text against the injection and secret patterns,
// returning ok=false with the rejection reason on the first match. No side
// effects.
func (e *Engine) ValidateText(text string) (bool, string) {
	lowered := strings.ToLower(text)
	for _, pat := range e.injectionPatterns {
		if pat.MatchString(lowered) {
			return false, ReasonInjection
		}
	}
	for _, pat := range e.secretPatterns {
		if pat.MatchString(text) {
			return false, ReasonSecret
		}
	}
	return true, reasonOK
}

// SanitizeUserText validates the text and, when accepted, returns it with
// PII and secret shapes redacted. On rejection the second return value is
// the rejection reason and the caller is expected to persist it as a
// guardrails-role message alongside the raw input.
func (e *Engine) SanitizeUserText(text string) (bool, string) {
	ok, reason := e.ValidateText(text)
	if !ok {
		return false, reason
	}
	return true, e.Redact(text)
}

// ValidateOutput interprets raw model output as a structured payload with an
// "answer" field, falling back to the whole text, then strips HTML-active
// content and redacts. It never fails; the result is always a best-effort
// answer.
func (e *Engine) ValidateOutput(text string) AssistantOutput {
	answer := strings.TrimSpace(text)

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(answer), &payload); err == nil {
		if raw, ok := payload["answer"]; ok {
			var parsed string
			if err := json.Unmarshal(raw, &parsed); err == nil {
				answer = parsed
			}
		}
	}

	answer = e.stripActiveContent(answer)
	answer = e.Redact(answer)
	return AssistantOutput{Answer: answer}
}

// Redact replaces email, phone, and secret shaped substrings with fixed
// placeholders. Re-running on already redacted text is a no-op.
func (e *Engine) Redact(text string) string {
	redacted := e.emailPattern.ReplaceAllString(text, redactedEmail)
	redacted = e.phonePattern.ReplaceAllString(redacted, redactedPhone)
	for _, pat := range e.secretPatterns {
		redacted = pat.ReplaceAllString(redacted, redactedSecret)
	}
	return redacted
}

// stripActiveContent removes script and style blocks with their contents,
// drops all remaining tags, then decodes HTML entities.
func (e *Engine) stripActiveContent(text string) string {
	cleaned := e.scriptBlocks.ReplaceAllString(text, " ")
	cleaned = e.styleBlocks.ReplaceAllString(cleaned, " ")
	cleaned = e.htmlTags.ReplaceAllString(cleaned, " ")
	return html.UnescapeString(cleaned)
}
