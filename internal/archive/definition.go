package archive

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var stepLineRe = regexp.MustCompile(`^\s*\d+[.)]\s+(.*\S)\s*$`)

type definitionFrontMatter struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Trigger     string `yaml:"trigger"`
}

// ParseDefinition parses a skill.md document: a YAML front-matter block
// delimited by `---` lines, followed by a free-form body whose numbered
// lines become the step list.
func ParseDefinition(data []byte) (*Definition, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return nil, fmt.Errorf("missing YAML front-matter")
	}
	rest := text[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, fmt.Errorf("unterminated YAML front-matter")
	}
	block := rest[:end]
	body := rest[end+4:]
	if i := strings.Index(body, "\n"); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}

	var fm definitionFrontMatter
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return nil, fmt.Errorf("front-matter: %w", err)
	}
	if strings.TrimSpace(fm.Title) == "" {
		return nil, fmt.Errorf("front-matter is missing title")
	}
	if strings.TrimSpace(fm.Description) == "" {
		return nil, fmt.Errorf("front-matter is missing description")
	}

	def := &Definition{
		Title:       strings.TrimSpace(fm.Title),
		Description: strings.TrimSpace(fm.Description),
		Trigger:     strings.TrimSpace(fm.Trigger),
	}
	for _, line := range strings.Split(body, "\n") {
		if m := stepLineRe.FindStringSubmatch(line); m != nil {
			def.Steps = append(def.Steps, m[1])
		}
	}
	return def, nil
}
