package techdoc

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Outline is the structure the writer follows.
type Outline struct {
	Title    string    `yaml:"title"`
	Sections []Section `yaml:"sections"`
}

// Section is one top-level part of the document.
type Section struct {
	Name        string   `yaml:"name"`
	Subsections []string `yaml:"subsections,omitempty"`
}

const outlinePrompt = `
Create a comprehensive outline for a technology document covering these technologies: %s

The document should have:
1. An introduction section
2. A dedicated section for each technology covering:
   - Overview and description
   - Latest version and recent updates
   - Key features and capabilities
   - Use cases and applications
   - Pros and cons
3. A comparison section
4. A conclusion section

Please format the response as YAML with this structure:

` + "```yaml" + `
title: "Technology Overview: [list of technologies]"
sections:
  - name: "Introduction"
    subsections:
      - "Purpose of this document"
      - "Technologies covered"
  - name: "[Technology 1 Name]"
    subsections:
      - "Overview"
      - "Latest Version and Updates"
      - "Key Features"
      - "Use Cases"
      - "Pros and Cons"
  # ... repeat for each technology
  - name: "Technology Comparison"
    subsections:
      - "Feature comparison"
      - "Performance considerations"
  - name: "Conclusion"
    subsections:
      - "Summary"
      - "Recommendations"
` + "```" + `
`

// OutlinePrompt returns the prompt asking for an outline of technologies.
func OutlinePrompt(technologies []string) string {
	return fmt.Sprintf(outlinePrompt, strings.Join(technologies, ", "))
}

// ParseOutline reads the outline from an LLM response. The first fenced
// yaml block is used when present, otherwise the whole response.
func ParseOutline(response string) (*Outline, error) {
	content := response
	if start := strings.Index(response, "```yaml"); start != -1 {
		rest := response[start+len("```yaml"):]
		if end := strings.Index(rest, "```"); end != -1 {
			content = rest[:end]
		}
	}

	var outline Outline
	if err := yaml.Unmarshal([]byte(strings.TrimSpace(content)), &outline); err != nil {
		return nil, fmt.Errorf("parse outline yaml: %w", err)
	}
	if err := ValidateOutline(&outline); err != nil {
		return nil, err
	}
	return &outline, nil
}

// YAML renders the outline for the writer prompt.
func (o *Outline) YAML() (string, error) {
	out, err := yaml.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("marshal outline: %w", err)
	}
	return string(out), nil
}
