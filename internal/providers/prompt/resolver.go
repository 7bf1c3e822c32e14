// Package prompt turns the raw prompt spec stored on a job into the
// text handed to a generation provider.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultPrompt is used when a job's spec cannot be resolved. Resolution
// failure is never fatal to the job.
const DefaultPrompt = "A clean studio product photo with soft lighting"

// Spec is the structured part of the prompt payload the resolver
// understands. Unknown fields are ignored.
type Spec struct {
	Text    string `json:"text"`
	Title   string `json:"title"`
	Subject string `json:"subject"`
	Style   string `json:"style"`
	Mode    string `json:"mode"`
}

// Resolver renders provider prompts from job specs, optionally through
// per-mode templates.
type Resolver struct {
	templates map[string]string
	titler    cases.Caser
}

// NewResolver creates a resolver with the given mode templates. A
// template receives the resolved subject via a %s verb.
func NewResolver(templates map[string]string) *Resolver {
	return &Resolver{
		templates: templates,
		titler:    cases.Title(language.Und),
	}
}

// Resolve builds the provider prompt for a raw job spec. It returns an
// error when the spec is unusable; callers fall back to DefaultPrompt.
func (r *Resolver) Resolve(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("prompt: empty spec")
	}
	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return "", fmt.Errorf("prompt: decode spec: %w", err)
	}

	subject := firstNonEmpty(spec.Text, spec.Title, spec.Subject)
	if subject == "" {
		return "", errors.New("prompt: spec has no usable text")
	}
	subject = r.titler.String(strings.TrimSpace(subject))

	if tpl, ok := r.templates[spec.Mode]; ok && tpl != "" {
		return fmt.Sprintf(tpl, subject), nil
	}
	if spec.Style != "" {
		return fmt.Sprintf("%s, %s style", subject, spec.Style), nil
	}
	return subject, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
