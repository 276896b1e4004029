package store

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

// Format names an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" and "yml", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported format %q (want json or yaml)", s)
}

// Encode writes wf in the given format.
func Encode(w io.Writer, wf *schemas.RecordedWorkflow, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(wf); err != nil {
			return fmt.Errorf("failed to encode workflow as yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(wf); err != nil {
			return fmt.Errorf("failed to encode workflow as json: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unsupported format %q", format)
}

// Decode reads a workflow and validates every action. Legacy "goto" verbs
// are normalized to navigate.
func Decode(r io.Reader, format Format) (*schemas.RecordedWorkflow, error) {
	var wf schemas.RecordedWorkflow
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&wf); err != nil {
			return nil, fmt.Errorf("failed to decode yaml workflow: %w", err)
		}
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&wf); err != nil {
			return nil, fmt.Errorf("failed to decode json workflow: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	for i := range wf.Actions {
		a := &wf.Actions[i]
		if strings.EqualFold(string(a.Type), "goto") {
			a.Type = schemas.ActionNavigate
		}
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
	}
	return &wf, nil
}
