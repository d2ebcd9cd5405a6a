package mailer

import (
	"fmt"

	"github.com/osteele/liquid"
)

// TemplateEngine renders subject lines and HTML bodies with liquid, so
// composer content can reference recipient variables ({{ first_name }} etc).
type TemplateEngine struct {
	engine *liquid.Engine
}

// NewTemplateEngine creates a liquid-backed template engine.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{engine: liquid.NewEngine()}
}

// Render expands source against the given variables. Unknown variables render
// empty rather than failing, which is what an email composer wants.
func (te *TemplateEngine) Render(source string, vars map[string]interface{}) (string, error) {
	if vars == nil {
		vars = map[string]interface{}{}
	}
	out, err := te.engine.ParseAndRenderString(source, vars)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}
