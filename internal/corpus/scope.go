package corpus

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

// ErrUnknownScope is returned when a query names a document source that has
// no whitelisted SQL fragment. It indicates a programming error.
var ErrUnknownScope = errors.New("corpus: unknown scope filter")

// scopeSQL is the whitelist of scope fragments for service_guide. Rows carry
// their source tag in metadata.source_table; Apple Pay rows are additionally
// recognisable by their id prefix.
var scopeSQL = map[string]string{
	types.SourceGuideMerged:    `(metadata->>'source_table' = 'guide_merged' OR id LIKE '%\_merged%')`,
	types.SourceGuideGeneral:   `(metadata->>'source_table' = 'guide_general')`,
	types.SourceGuideWithTerms: `(metadata->>'source_table' = 'guide_with_terms')`,
	types.SourceApplePay:       `(metadata->>'source_table' = 'hyundai_applepay' OR id LIKE 'hyundai\_applepay%')`,
}

// KnownScope reports whether name is a whitelisted scope.
func KnownScope(name string) bool {
	_, ok := scopeSQL[name]
	return ok
}

// scopeClause returns the OR-group for include and the NOT-group for
// exclude. Either may be empty. Scope names are sorted so equal inputs give
// byte-identical SQL.
func scopeClause(include, exclude []string) (string, error) {
	var parts []string
	if len(include) > 0 {
		frags, err := fragments(include)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+strings.Join(frags, " OR ")+")")
	}
	if len(exclude) > 0 {
		frags, err := fragments(exclude)
		if err != nil {
			return "", err
		}
		parts = append(parts, "NOT ("+strings.Join(frags, " OR ")+")")
	}
	return strings.Join(parts, " AND "), nil
}

func fragments(names []string) ([]string, error) {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	out := make([]string, 0, len(sorted))
	for _, n := range sorted {
		frag, ok := scopeSQL[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScope, n)
		}
		out = append(out, frag)
	}
	return out, nil
}
