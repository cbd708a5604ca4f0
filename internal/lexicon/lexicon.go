// Package lexicon builds the canonical keyword dictionary used by the keyword
// extractor and the router.
//
// A [Snapshot] combines the keyword definitions file (action, weak-intent and
// payment synonyms plus compound regex patterns) with the card-product names
// loaded from the corpus. Snapshots are immutable; a [Loader] rebuilds a new
// one on reload and swaps it atomically so that in-flight utterances keep the
// snapshot they started with.
//
// Building a snapshot is deterministic: the same keyword file and the same set
// of card names always produce identical maps and slices.
package lexicon

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Pattern is a compiled compound pattern tagged with its category.
type Pattern struct {
	Category string
	Re       *regexp.Regexp
}

// Snapshot is an immutable, compiled lexicon. It is safe for concurrent use.
type Snapshot struct {
	// ActionSynonyms maps each canonical action to its surface forms.
	ActionSynonyms map[string][]string

	// WeakIntentSynonyms maps each canonical weak intent to its surface forms.
	WeakIntentSynonyms map[string][]string

	// PaymentSynonyms maps each canonical payment method to its surface forms.
	PaymentSynonyms map[string][]string

	// CardNameSynonyms maps each distinct product name to its surface variants.
	CardNameSynonyms map[string][]string

	// CompoundPatterns holds the compiled patterns in file order.
	CompoundPatterns []Pattern

	// Stopwords is the fixed filler set stripped from the noun bag.
	Stopwords map[string]struct{}

	// LoadedAt records when the snapshot was built.
	LoadedAt time.Time
}

// stopwords are fillers that never carry retrieval signal.
var stopwords = []string{
	"그", "저", "이", "좀", "그냥", "혹시", "제가", "저희", "지금", "아니",
	"네", "예", "어", "음", "아", "요", "거", "것", "뭐", "어떻게", "카드",
	"고객", "고객님", "문의", "궁금", "부탁",
}

// CardNameSource supplies the distinct product names from the corpus.
type CardNameSource interface {
	CardNames(ctx context.Context) ([]string, error)
}

// Build compiles a [Snapshot] from a decoded keyword file and a list of card
// names. Card names may be nil, producing an empty card-name map.
func Build(f *File, cardNames []string) (*Snapshot, error) {
	cats := make(map[string]CategoryDef, len(f.Categories))
	for _, c := range f.Categories {
		cats[c.Name] = c
	}

	s := &Snapshot{
		ActionSynonyms:     map[string][]string{},
		WeakIntentSynonyms: map[string][]string{},
		PaymentSynonyms:    map[string][]string{},
		CardNameSynonyms:   map[string][]string{},
		Stopwords:          make(map[string]struct{}, len(stopwords)),
		LoadedAt:           time.Now(),
	}

	for _, k := range f.Keywords {
		primary := primaryCategory(k, cats)
		var target map[string][]string
		switch primary.Class {
		case ClassAction:
			target = s.ActionSynonyms
		case ClassWeakIntent:
			target = s.WeakIntentSynonyms
		case ClassPayment:
			target = s.PaymentSynonyms
		default:
			continue
		}
		forms := append(target[k.Canonical], k.Canonical)
		for _, syn := range k.Synonyms {
			forms = append(forms, strings.ToLower(strings.TrimSpace(syn)))
		}
		target[k.Canonical] = uniqueSorted(forms)
	}

	for _, p := range f.Patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("lexicon: compile pattern %q: %w", p.Category, err)
		}
		s.CompoundPatterns = append(s.CompoundPatterns, Pattern{Category: p.Category, Re: re})
	}

	for _, w := range stopwords {
		s.Stopwords[w] = struct{}{}
	}

	for _, name := range cardNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s.CardNameSynonyms[name] = uniqueSorted(append(s.CardNameSynonyms[name], CardNameVariants(name)...))
	}

	return s, nil
}

// CardNameVariants returns the deterministic surface variants of a product
// name: lowercased, whitespace-stripped, hyphen/space interchanged and with
// the middle dot removed, in every combination.
func CardNameVariants(name string) []string {
	base := strings.ToLower(strings.TrimSpace(name))
	if base == "" {
		return nil
	}
	seeds := []string{
		base,
		strings.ReplaceAll(base, "-", " "),
		strings.ReplaceAll(base, " ", "-"),
	}
	var out []string
	for _, s := range seeds {
		for _, v := range []string{s, strings.ReplaceAll(s, "·", ""), strings.ReplaceAll(s, "·", " ")} {
			v = strings.Join(strings.Fields(v), " ")
			out = append(out, v, strings.ReplaceAll(v, " ", ""))
		}
	}
	return uniqueSorted(out)
}

// CardNames returns the product names in sorted order.
func (s *Snapshot) CardNames() []string {
	names := make([]string, 0, len(s.CardNameSynonyms))
	for n := range s.CardNameSynonyms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsStopword reports whether w is a filler.
func (s *Snapshot) IsStopword(w string) bool {
	_, ok := s.Stopwords[w]
	return ok
}

// SurfaceForms returns every action, weak-intent and payment surface form,
// sorted longest first. The extractor registers these as user-dictionary
// entries so the analyzer keeps them whole.
func (s *Snapshot) SurfaceForms() []string {
	var all []string
	for _, m := range []map[string][]string{s.ActionSynonyms, s.WeakIntentSynonyms, s.PaymentSynonyms} {
		for _, forms := range m {
			all = append(all, forms...)
		}
	}
	all = uniqueSorted(all)
	sort.SliceStable(all, func(i, j int) bool {
		return len([]rune(all[i])) > len([]rune(all[j]))
	})
	return all
}

func uniqueSorted(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

// Loader owns the current [Snapshot] and rebuilds it on demand.
type Loader struct {
	path    string
	source  CardNameSource
	current atomic.Pointer[Snapshot]
}

// NewLoader builds the initial snapshot from the keyword file at path (empty
// selects the built-in file) and the card names from src. A nil src or a
// failing src yields an empty card-name map; the loader stays usable.
func NewLoader(ctx context.Context, path string, src CardNameSource) (*Loader, error) {
	l := &Loader{path: path, source: src}
	if err := l.Reload(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Current returns the active snapshot.
func (l *Loader) Current() *Snapshot {
	return l.current.Load()
}

// Reload rebuilds the snapshot. A keyword-file error is returned and the old
// snapshot stays active; a card-name error only empties the card-name map.
func (l *Loader) Reload(ctx context.Context) error {
	f, err := ReadFile(l.path)
	if err != nil {
		return err
	}

	var names []string
	if l.source != nil {
		names, err = l.source.CardNames(ctx)
		if err != nil {
			slog.Warn("lexicon: card names unavailable, continuing without them", "err", err)
			names = nil
		}
	}

	snap, err := Build(f, names)
	if err != nil {
		return err
	}
	l.current.Store(snap)
	slog.Info("lexicon loaded",
		"actions", len(snap.ActionSynonyms),
		"weak_intents", len(snap.WeakIntentSynonyms),
		"payments", len(snap.PaymentSynonyms),
		"card_names", len(snap.CardNameSynonyms),
		"patterns", len(snap.CompoundPatterns),
	)
	return nil
}

// Static returns a loader that always serves snap. Useful in tests.
func Static(snap *Snapshot) *Loader {
	l := &Loader{}
	l.current.Store(snap)
	return l
}
