package corpus

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

func TestScopeClause(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		include  []string
		exclude  []string
		want     []string
		wantNone bool
		wantErr  bool
	}{
		{name: "empty", wantNone: true},
		{name: "include", include: []string{types.SourceGuideMerged, types.SourceGuideGeneral}, want: []string{"guide_merged", "guide_general", " OR "}},
		{name: "exclude", exclude: []string{types.SourceApplePay}, want: []string{"NOT (", "hyundai"}},
		{name: "unknown", include: []string{"guide_secret"}, wantErr: true},
		{name: "unknown exclude", exclude: []string{"x; DROP TABLE"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := scopeClause(tt.include, tt.exclude)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownScope) {
					t.Fatalf("err = %v, want ErrUnknownScope", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNone && got != "" {
				t.Errorf("clause = %q, want empty", got)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("clause %q missing %q", got, w)
				}
			}
		})
	}
}

func TestScopeClause_OrderIndependent(t *testing.T) {
	t.Parallel()

	a, _ := scopeClause([]string{types.SourceGuideGeneral, types.SourceGuideMerged}, nil)
	b, _ := scopeClause([]string{types.SourceGuideMerged, types.SourceGuideGeneral, types.SourceGuideMerged}, nil)
	if a != b {
		t.Errorf("scope SQL depends on input order:\n%s\n%s", a, b)
	}
}

func TestWhere(t *testing.T) {
	t.Parallel()

	a := &args{}
	w, err := where(Query{
		Table:         types.TableGuide,
		Scopes:        []string{types.SourceApplePay},
		IDPrefix:      "hyundai_applepay",
		Categories:    []string{"분실"},
		ExcludeScopes: nil,
	}, a, "embedding IS NOT NULL")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(w, "WHERE embedding IS NOT NULL") {
		t.Errorf("where = %q", w)
	}
	if !strings.Contains(w, "id LIKE $1") || !strings.Contains(w, "category = ANY($2)") {
		t.Errorf("placeholders out of order: %q", w)
	}
	if a.vals[0] != `hyundai\_applepay%` {
		t.Errorf("prefix arg = %v", a.vals[0])
	}
}

func TestWhere_ScopesValidatedForEveryTable(t *testing.T) {
	t.Parallel()

	_, err := where(Query{Table: types.TableProducts, Scopes: []string{"nope"}}, &args{})
	if !errors.Is(err, ErrUnknownScope) {
		t.Errorf("err = %v, want ErrUnknownScope", err)
	}
	w, err := where(Query{Table: types.TableProducts, Scopes: []string{types.SourceGuideMerged}}, &args{})
	if err != nil || w != "" {
		t.Errorf("products scope applied: %q %v", w, err)
	}
}

func TestTrigramTerms(t *testing.T) {
	t.Parallel()

	got := trigramTerms([]string{"분실", "재발급", "분실신고", "재발급", "해외결제차단", "결제일", " "})
	want := []string{"해외결제차단", "분실신고", "재발급"}
	if !slices.Equal(got, want) {
		t.Errorf("trigramTerms = %v, want %v", got, want)
	}
	if got := trigramTerms([]string{"분실", "카드"}); len(got) != 0 {
		t.Errorf("short terms kept: %v", got)
	}
}

func TestLikeTerms(t *testing.T) {
	t.Parallel()

	got := likeTerms([]string{"a", "분실", "분실", "k-패스"})
	if !slices.Equal(got, []string{"분실", "k-패스"}) {
		t.Errorf("likeTerms = %v", got)
	}
}

func TestVectorSQL(t *testing.T) {
	t.Parallel()

	sql, vals, err := vectorSQL(Query{Table: types.TableGuide, Embedding: []float32{1, 0}, Limit: 7}, "<=>")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sql, "embedding <=> $1") || !strings.Contains(sql, "ORDER  BY distance, id") {
		t.Errorf("sql = %s", sql)
	}
	if len(vals) != 2 || vals[1] != 7 {
		t.Errorf("vals = %v", vals)
	}
	if _, _, err := vectorSQL(Query{Table: "nope"}, "<=>"); err == nil {
		t.Error("unknown table accepted")
	}
}

func TestTrigramSQL(t *testing.T) {
	t.Parallel()

	sql, vals, err := trigramSQL(Query{Table: types.TableGuide, Terms: []string{"재발급", "분실신고"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sql, "similarity(title, $1)") || !strings.Contains(sql, "content % $2") {
		t.Errorf("sql = %s", sql)
	}
	if len(vals) != 3 || vals[2] != DefaultLimit {
		t.Errorf("vals = %v", vals)
	}
	if sql, _, _ := trigramSQL(Query{Table: types.TableGuide, Terms: []string{"분실"}}); sql != "" {
		t.Error("trigram scan built for short terms")
	}
}

func TestLikeSQL(t *testing.T) {
	t.Parallel()

	sql, vals, err := likeSQL(Query{Table: types.TableProducts, Terms: []string{"연회비", "50%"}, CandidateIDs: []string{"CARD-1"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sql, "name ILIKE $1") || !strings.Contains(sql, "id = ANY($3)") {
		t.Errorf("sql = %s", sql)
	}
	if !strings.Contains(sql, "/ 2)") {
		t.Errorf("score not normalized by term count: %s", sql)
	}
	if vals[1] != `%50\%%` {
		t.Errorf("wildcard not escaped: %v", vals[1])
	}
}
