// Package taxonomy maps raw classifier labels to canonical species, merges
// visually confusable species into ambiguity groups and resolves labels to
// catalog animals.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/wildwatch/internal/errors"
)

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

// Species is a canonical species entry
type Species struct {
	Key     string   `yaml:"key"`
	Display string   `yaml:"display"`
	Aliases []string `yaml:"aliases"`
}

// Group is a set of species treated as one identity when confidence is split
// between them.
type Group struct {
	Key     string   `yaml:"key"`
	Display string   `yaml:"display"`
	Members []string `yaml:"members"`
}

type document struct {
	Species []Species `yaml:"species"`
	Groups  []Group   `yaml:"groups"`
}

// Taxonomy holds the immutable alias, display and group tables. It is safe
// for concurrent use.
type Taxonomy struct {
	aliases map[string]string // cleaned alias -> canonical key
	display map[string]string // canonical key -> localized display name
	groupOf map[string]string // canonical key -> group key
	groups  map[string]Group
}

// Default returns the built-in taxonomy
func Default() (*Taxonomy, error) {
	return Parse(defaultTaxonomy)
}

// Load reads a taxonomy file, or the built-in tables when path is empty
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("taxonomy").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	return Parse(data)
}

// Parse builds a Taxonomy from YAML and validates that the tables are closed:
// keys are normalized, alias targets exist and groups form a flat partition.
func Parse(data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.New(err).
			Component("taxonomy").
			Category(errors.CategoryFileParsing).
			Build()
	}

	t := &Taxonomy{
		aliases: make(map[string]string),
		display: make(map[string]string, len(doc.Species)),
		groupOf: make(map[string]string),
		groups:  make(map[string]Group, len(doc.Groups)),
	}

	var problems []error
	for _, sp := range doc.Species {
		if clean(sp.Key) != sp.Key || sp.Key == "" {
			problems = append(problems, fmt.Errorf("species key %q is not in normalized form", sp.Key))
			continue
		}
		if _, dup := t.display[sp.Key]; dup {
			problems = append(problems, fmt.Errorf("species %q defined twice", sp.Key))
			continue
		}
		t.display[sp.Key] = sp.Display
	}

	for _, sp := range doc.Species {
		for _, alias := range sp.Aliases {
			a := clean(alias)
			if a == "" || a == sp.Key {
				continue
			}
			if _, isSpecies := t.display[a]; isSpecies {
				problems = append(problems, fmt.Errorf("alias %q of %q shadows a species key", alias, sp.Key))
				continue
			}
			if prev, dup := t.aliases[a]; dup && prev != sp.Key {
				problems = append(problems, fmt.Errorf("alias %q maps to both %q and %q", alias, prev, sp.Key))
				continue
			}
			t.aliases[a] = sp.Key
		}
	}

	for _, g := range doc.Groups {
		if g.Key == "" {
			problems = append(problems, fmt.Errorf("group without key"))
			continue
		}
		for _, member := range g.Members {
			if _, ok := t.display[member]; !ok {
				problems = append(problems, fmt.Errorf("group %q member %q is not a species key", g.Key, member))
				continue
			}
			if other, taken := t.groupOf[member]; taken {
				problems = append(problems, fmt.Errorf("species %q is in groups %q and %q", member, other, g.Key))
				continue
			}
			t.groupOf[member] = g.Key
		}
		g.Members = slices.Clone(g.Members)
		t.groups[g.Key] = g
	}

	if len(problems) > 0 {
		return nil, errors.New(errors.Join(problems...)).
			Component("taxonomy").
			Category(errors.CategoryTaxonomy).
			Build()
	}
	return t, nil
}

// Display returns the localized display name for a canonical key, or ""
func (t *Taxonomy) Display(key string) string {
	return t.display[key]
}

// GroupOf returns the group key for a canonical species, or "" when the
// species is not in any group.
func (t *Taxonomy) GroupOf(key string) string {
	return t.groupOf[key]
}

// Group returns the group with the given key
func (t *Taxonomy) Group(key string) (Group, bool) {
	g, ok := t.groups[key]
	return g, ok
}

// Species returns the number of canonical species
func (t *Taxonomy) Species() int {
	return len(t.display)
}

// Known reports whether key is a canonical species
func (t *Taxonomy) Known(key string) bool {
	_, ok := t.display[key]
	return ok
}
