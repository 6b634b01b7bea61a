package pipeline

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"

	"github.com/phrazzld/studykit/internal/domain"
)

//go:embed prompts/*.tmpl
var embeddedPrompts embed.FS

// ErrMissingPrompt is returned when no template exists for a stage.
var ErrMissingPrompt = errors.New("no prompt template for stage")

// PromptData is the value passed to every stage template.
type PromptData struct {
	// Text is the transcript, or the summary for the slides stage.
	Text     string
	Language string
}

// Prompts renders the generation prompt of each post-extract stage.
type Prompts struct {
	templates map[domain.Stage]*template.Template
}

// LoadPrompts parses the embedded stage templates. When dir is non-empty,
// a file named <stage>.tmpl in dir replaces the embedded template for that
// stage; stages without an override keep the embedded one.
func LoadPrompts(dir string) (*Prompts, error) {
	p := &Prompts{templates: make(map[domain.Stage]*template.Template)}
	for _, stage := range domain.Stages {
		if stage == domain.StageExtract {
			continue
		}
		name := string(stage) + ".tmpl"

		content, err := fs.ReadFile(embeddedPrompts, "prompts/"+name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPrompt, stage)
		}
		if dir != "" {
			override, err := os.ReadFile(filepath.Join(dir, name))
			switch {
			case err == nil:
				content = override
			case !errors.Is(err, fs.ErrNotExist):
				return nil, fmt.Errorf("failed to read prompt template %s: %w", name, err)
			}
		}

		tmpl, err := template.New(name).Option("missingkey=error").Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse prompt template %s: %w", name, err)
		}
		p.templates[stage] = tmpl
	}
	return p, nil
}

// Render executes the template of stage with data.
func (p *Prompts) Render(stage domain.Stage, data PromptData) (string, error) {
	tmpl, ok := p.templates[stage]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingPrompt, stage)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template for %s: %w", stage, err)
	}
	return buf.String(), nil
}
