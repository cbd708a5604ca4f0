package lexicon

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultKeywords []byte

// Class is the keyword class a category maps into.
type Class string

const (
	ClassAction     Class = "action"
	ClassWeakIntent Class = "weak_intent"
	ClassPayment    Class = "payment"
)

// IsValid reports whether c is a recognised class.
func (c Class) IsValid() bool {
	switch c {
	case ClassAction, ClassWeakIntent, ClassPayment:
		return true
	}
	return false
}

// File is the decoded keyword definitions file.
type File struct {
	Categories []CategoryDef `yaml:"categories"`
	Keywords   []KeywordDef  `yaml:"keywords"`
	Patterns   []PatternDef  `yaml:"patterns"`
}

// CategoryDef declares a category, its class, and its tie-break priority.
type CategoryDef struct {
	Name     string `yaml:"name"`
	Class    Class  `yaml:"class"`
	Priority int    `yaml:"priority"`
}

// KeywordDef is one canonical keyword with its categories and surface forms.
type KeywordDef struct {
	Canonical  string   `yaml:"canonical"`
	Categories []string `yaml:"categories"`
	Synonyms   []string `yaml:"synonyms"`
}

// PatternDef is a compound regex reported under Category when it matches.
type PatternDef struct {
	Category string `yaml:"category"`
	Regex    string `yaml:"regex"`
}

// ReadFile decodes the keyword file at path. An empty path selects the
// built-in definitions.
func ReadFile(path string) (*File, error) {
	if path == "" {
		return decodeFile(bytes.NewReader(defaultKeywords))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: open %q: %w", path, err)
	}
	defer f.Close()
	lf, err := decodeFile(f)
	if err != nil {
		return nil, fmt.Errorf("lexicon: parse %q: %w", path, err)
	}
	return lf, nil
}

func decodeFile(r io.Reader) (*File, error) {
	lf := &File{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(lf); err != nil {
		return nil, fmt.Errorf("lexicon: decode yaml: %w", err)
	}
	if err := lf.validate(); err != nil {
		return nil, err
	}
	return lf, nil
}

func (f *File) validate() error {
	var errs []error
	seen := make(map[string]bool, len(f.Categories))
	for i, c := range f.Categories {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("categories[%d].name is required", i))
		}
		if !c.Class.IsValid() {
			errs = append(errs, fmt.Errorf("categories[%d].class %q is invalid; valid values: action, weak_intent, payment", i, c.Class))
		}
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("categories[%d].name %q is a duplicate", i, c.Name))
		}
		seen[c.Name] = true
	}
	for i, k := range f.Keywords {
		if k.Canonical == "" {
			errs = append(errs, fmt.Errorf("keywords[%d].canonical is required", i))
		}
		if len(k.Categories) == 0 {
			errs = append(errs, fmt.Errorf("keywords[%d] (%s) has no categories", i, k.Canonical))
		}
		for _, c := range k.Categories {
			if !seen[c] {
				errs = append(errs, fmt.Errorf("keywords[%d] (%s) references unknown category %q", i, k.Canonical, c))
			}
		}
	}
	for i, p := range f.Patterns {
		if _, err := regexp.Compile(p.Regex); err != nil {
			errs = append(errs, fmt.Errorf("patterns[%d] (%s): %w", i, p.Category, err))
		}
	}
	return errors.Join(errs...)
}

// primaryCategory picks the category that decides a keyword's class:
// the highest priority wins; on a tie, the category named like the keyword;
// on a further tie, the lexically smallest name.
func primaryCategory(k KeywordDef, cats map[string]CategoryDef) CategoryDef {
	names := append([]string(nil), k.Categories...)
	sort.Strings(names)

	var best CategoryDef
	found := false
	for _, n := range names {
		c := cats[n]
		switch {
		case !found:
			best, found = c, true
		case c.Priority > best.Priority:
			best = c
		case c.Priority == best.Priority && c.Name == k.Canonical && best.Name != k.Canonical:
			best = c
		}
	}
	return best
}
