package messaging

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var templatesYAML []byte

// Template is a message template registered with the Cloud API.
type Template struct {
	Name     string   `yaml:"name"`
	Language string   `yaml:"language"`
	Category string   `yaml:"category"`
	Body     string   `yaml:"body"`
	Examples []string `yaml:"examples"`
}

var placeholder = regexp.MustCompile(`\{\{(\d+)\}\}`)

// Params is the number of positional parameters in the body.
func (t Template) Params() int {
	return len(placeholder.FindAllString(t.Body, -1))
}

type catalogue struct {
	Templates []Template `yaml:"templates"`
}

// Templates returns the built-in templates in setup order.
func Templates() []Template {
	return builtin
}

var builtin = mustParseTemplates(templatesYAML)

func mustParseTemplates(raw []byte) []Template {
	ts, err := parseTemplates(raw)
	if err != nil {
		panic(err)
	}
	return ts
}

func parseTemplates(raw []byte) ([]Template, error) {
	var c catalogue
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	seen := make(map[string]bool)
	for _, t := range c.Templates {
		if t.Name == "" || t.Language == "" || t.Body == "" {
			return nil, fmt.Errorf("template %q: name, language and body are required", t.Name)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("template %q declared twice", t.Name)
		}
		seen[t.Name] = true
		if t.Params() != len(t.Examples) {
			return nil, fmt.Errorf("template %q: %d placeholders but %d examples", t.Name, t.Params(), len(t.Examples))
		}
	}
	return c.Templates, nil
}

// TemplateByName looks up a built-in template.
func TemplateByName(name string) (Template, bool) {
	for _, t := range builtin {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}

// SetupSteps lists the setup steps in order.
func SetupSteps() []string {
	steps := []string{StepWebhook}
	for _, t := range builtin {
		steps = append(steps, stepTemplate+t.Name)
	}
	return steps
}
