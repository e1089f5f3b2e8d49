// Package steps holds the process documentation graph the agent navigates with
// prev/next/curr queries.
package steps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fallback descriptions returned when the graph has no answer. The model reads them verbatim.
const (
	NoPreviousStep = "There is no previous step. Go back to the last step."
	NoNextStep     = "There is no next step. Go back to the last step."
	NoCurrentStep  = "The current step does not exist. Go back to the last step."
)

// Step is one node of the process documentation.
type Step struct {
	ID          int
	Description string
}

// Navigator answers step queries relative to a cursor id. A missing neighbour is not an
// error: it yields a sentinel step (see NoPreviousStep and friends).
type Navigator interface {
	Previous(ctx context.Context, id int) (Step, error)
	Next(ctx context.Context, id int) (Step, error)
	Current(ctx context.Context, id int) (Step, error)
}

// Spec is one step as written in a process YAML file.
type Spec struct {
	ID          int    `yaml:"id"`
	Description string `yaml:"description"`
	Next        *int   `yaml:"next"`
}

type document struct {
	Steps []Spec `yaml:"steps"`
}

// Load reads and validates a process YAML file.
func Load(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}
	specs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}

// Parse accepts either a top-level list of steps or a mapping with key "steps".
// Tabs are expanded to tab stops every four columns first.
func Parse(data []byte) ([]Spec, error) {
	content := []byte(expandTabs(string(data), tabWidth))

	var root yaml.Node
	if err := yaml.Unmarshal(content, &root); err != nil {
		return nil, fmt.Errorf("parse steps: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, errors.New("parse steps: document is empty")
	}

	var specs []Spec
	switch node := root.Content[0]; node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&specs); err != nil {
			return nil, fmt.Errorf("parse steps: %w", err)
		}
	case yaml.MappingNode:
		var doc document
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse steps: %w", err)
		}
		if doc.Steps == nil {
			return nil, errors.New("parse steps: mapping must contain key \"steps\"")
		}
		specs = doc.Steps
	default:
		return nil, errors.New("parse steps: expected a list or a mapping with key \"steps\"")
	}

	if err := validate(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

const tabWidth = 4

// expandTabs replaces each tab with spaces up to the next multiple of width.
// The column restarts after every line break.
func expandTabs(s string, width int) string {
	if !strings.ContainsRune(s, '\t') {
		return s
	}
	var b strings.Builder
	col := 0
	for _, r := range s {
		switch r {
		case '\t':
			n := width - col%width
			b.WriteString(strings.Repeat(" ", n))
			col += n
		case '\n', '\r':
			b.WriteRune(r)
			col = 0
		default:
			b.WriteRune(r)
			col++
		}
	}
	return b.String()
}

func validate(specs []Spec) error {
	ids := make(map[int]struct{}, len(specs))
	for _, s := range specs {
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("duplicate step id %d", s.ID)
		}
		ids[s.ID] = struct{}{}
	}
	for _, s := range specs {
		if s.Next == nil {
			continue
		}
		if _, ok := ids[*s.Next]; !ok {
			return fmt.Errorf("step %d: next references unknown step %d", s.ID, *s.Next)
		}
	}
	return nil
}
