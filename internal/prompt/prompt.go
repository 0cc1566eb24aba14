// Package prompt renders the model prompts from embedded templates.
package prompt

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/ashureev/tripmind/internal/llm"
	"github.com/ashureev/tripmind/internal/logging"
	"github.com/tmc/langchaingo/prompts"
)

// Template names.
const (
	QueryRewriting    = "query_rewriting"
	QuestionAnswering = "question_answering"
	TravelAgent       = "travel_agent"
	FactExtracting    = "fact_extracting"
	ChatAgent         = "chat_agent"
)

// ErrTemplate is returned for unknown templates, missing variables and
// render failures.
var ErrTemplate = errors.New("prompt template error")

//go:embed templates/*.tmpl
var templateFS embed.FS

var variables = map[string][]string{
	QueryRewriting:    {"conversation_history", "followup_question"},
	QuestionAnswering: {"context"},
	TravelAgent:       {"context", "current_step", "max_steps", "tools", "date"},
	FactExtracting:    {"user_id", "journal_entries", "existing_facts"},
	ChatAgent:         {"facts", "history"},
}

// Renderer renders named templates strictly: every declared variable must
// be supplied.
type Renderer struct {
	templates map[string]prompts.PromptTemplate
	counter   *llm.TokenCounter
}

// NewRenderer loads the embedded templates. counter may be nil.
func NewRenderer(counter *llm.TokenCounter) (*Renderer, error) {
	r := &Renderer{
		templates: make(map[string]prompts.PromptTemplate, len(variables)),
		counter:   counter,
	}
	for name, vars := range variables {
		raw, err := templateFS.ReadFile(path.Join("templates", name+".tmpl"))
		if err != nil {
			return nil, fmt.Errorf("%w: load %s: %v", ErrTemplate, name, err)
		}
		tmpl := prompts.PromptTemplate{
			Template:       string(raw),
			InputVariables: vars,
			TemplateFormat: prompts.TemplateFormatGoTemplate,
		}
		if err := prompts.CheckValidTemplate(tmpl.Template, tmpl.TemplateFormat, vars); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrTemplate, name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Names returns the known template names, sorted.
func (r *Renderer) Names() []string {
	names := make([]string, 0, len(r.templates))
	for n := range r.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render renders template name with vars and logs its token count.
func (r *Renderer) Render(ctx context.Context, name string, vars map[string]any) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown template %q", ErrTemplate, name)
	}
	var missing []string
	for _, v := range tmpl.InputVariables {
		if _, ok := vars[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s: missing variables %s", ErrTemplate, name, strings.Join(missing, ", "))
	}

	out, err := tmpl.Format(vars)
	if err != nil {
		return "", fmt.Errorf("%w: render %s: %v", ErrTemplate, name, err)
	}
	logging.FromContext(ctx).Debug("Rendered prompt", "template", name, "tokens", r.counter.Count(out))
	return out, nil
}
