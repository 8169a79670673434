package techdoc

import (
	"errors"
	"fmt"
	"strings"
)

const maxTechnologyLength = 100

// InputError reports a rejected technology list.
type InputError struct {
	Msg     string
	Invalid []string
}

func (e *InputError) Error() string {
	if len(e.Invalid) == 0 {
		return e.Msg
	}
	return fmt.Sprintf("%s: %q", e.Msg, e.Invalid)
}

// ValidateTechnologies trims every name and removes case-insensitive
// duplicates, keeping the first spelling. Empty names, names longer than
// 100 characters and lists longer than limit are rejected.
func ValidateTechnologies(technologies []string, limit int) ([]string, error) {
	if len(technologies) == 0 {
		return nil, &InputError{Msg: "no technologies provided"}
	}

	var invalid []string
	cleaned := make([]string, 0, len(technologies))
	seen := make(map[string]bool, len(technologies))
	for _, tech := range technologies {
		name := strings.TrimSpace(tech)
		if name == "" || len(name) > maxTechnologyLength {
			invalid = append(invalid, tech)
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		cleaned = append(cleaned, name)
	}

	if len(invalid) > 0 {
		return nil, &InputError{Msg: "invalid technologies found", Invalid: invalid}
	}
	if limit > 0 && len(cleaned) > limit {
		return nil, &InputError{Msg: fmt.Sprintf("too many technologies: %d (maximum: %d)", len(cleaned), limit)}
	}
	return cleaned, nil
}

// ValidateOutline checks that the outline has a title and named sections.
func ValidateOutline(o *Outline) error {
	if o == nil {
		return errors.New("outline is missing")
	}
	if strings.TrimSpace(o.Title) == "" {
		return errors.New("outline title must be a non-empty string")
	}
	if len(o.Sections) == 0 {
		return errors.New("outline must have at least one section")
	}
	for i, s := range o.Sections {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("outline section %d name must be a non-empty string", i)
		}
	}
	return nil
}

// ValidateResearch checks that every expected technology has non-empty
// research.
func ValidateResearch(results map[string]string, technologies []string) error {
	var missing []string
	for _, tech := range technologies {
		if strings.TrimSpace(results[tech]) == "" {
			missing = append(missing, tech)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing or empty research results for: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateDocument trims the document and checks its length and that it
// has at least one markdown heading.
func ValidateDocument(document string, minLength int) (string, error) {
	document = strings.TrimSpace(document)
	if document == "" {
		return "", errors.New("document cannot be empty")
	}
	if len(document) < minLength {
		return "", fmt.Errorf("document too short: %d chars (minimum: %d)", len(document), minLength)
	}
	for _, line := range strings.Split(document, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			return document, nil
		}
	}
	return "", errors.New("document should contain markdown headings")
}
