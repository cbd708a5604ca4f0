package lexicon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/lexicon"
)

type fakeSource struct {
	names []string
	err   error
	calls int
}

func (f *fakeSource) CardNames(context.Context) ([]string, error) {
	f.calls++
	return f.names, f.err
}

func TestBuild_DefaultFileClasses(t *testing.T) {
	t.Parallel()

	f, err := lexicon.ReadFile("")
	if err != nil {
		t.Fatalf("ReadFile(\"\"): %v", err)
	}
	snap, err := lexicon.Build(f, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	tests := []struct {
		canonical string
		class     map[string][]string
		name      string
	}{
		{"분실", snap.ActionSynonyms, "action"},
		{"정지", snap.ActionSynonyms, "action"},
		{"등록", snap.ActionSynonyms, "action"},
		{"연회비", snap.WeakIntentSynonyms, "weak_intent"},
		{"다자녀", snap.WeakIntentSynonyms, "weak_intent"},
		{"애플페이", snap.PaymentSynonyms, "payment"},
		{"교통카드", snap.PaymentSynonyms, "payment"},
	}
	for _, tc := range tests {
		t.Run(tc.canonical, func(t *testing.T) {
			forms, ok := tc.class[tc.canonical]
			if !ok {
				t.Fatalf("%q not in %s synonyms", tc.canonical, tc.name)
			}
			if !slices.Contains(forms, tc.canonical) {
				t.Errorf("%q forms %v do not include the canonical term", tc.canonical, forms)
			}
			if !slices.IsSorted(forms) {
				t.Errorf("%q forms %v are not sorted", tc.canonical, forms)
			}
		})
	}

	if len(snap.CardNameSynonyms) != 0 {
		t.Errorf("CardNameSynonyms = %v, want empty without a source", snap.CardNameSynonyms)
	}
	if len(snap.CompoundPatterns) == 0 {
		t.Error("CompoundPatterns is empty")
	}
	if !snap.IsStopword("그냥") {
		t.Error(`IsStopword("그냥") = false, want true`)
	}
}

func TestBuild_PriorityTieBreak(t *testing.T) {
	t.Parallel()

	f := &lexicon.File{
		Categories: []lexicon.CategoryDef{
			{Name: "혜택", Class: lexicon.ClassWeakIntent, Priority: 40},
			{Name: "결제", Class: lexicon.ClassAction, Priority: 40},
			{Name: "간편결제", Class: lexicon.ClassPayment, Priority: 90},
		},
		Keywords: []lexicon.KeywordDef{
			// equal priority: the category named like the keyword wins
			{Canonical: "결제", Categories: []string{"혜택", "결제"}},
			// higher priority wins regardless of the name
			{Canonical: "혜택", Categories: []string{"혜택", "간편결제"}},
		},
	}
	snap, err := lexicon.Build(f, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := snap.ActionSynonyms["결제"]; !ok {
		t.Errorf("결제 not classified as action: %+v", snap)
	}
	if _, ok := snap.PaymentSynonyms["혜택"]; !ok {
		t.Errorf("혜택 not classified as payment: %+v", snap)
	}
}

func TestCardNameVariants(t *testing.T) {
	t.Parallel()

	got := lexicon.CardNameVariants("K-패스 신한카드")
	for _, want := range []string{"k-패스 신한카드", "k 패스 신한카드", "k패스신한카드", "k-패스-신한카드"} {
		if !slices.Contains(got, want) {
			t.Errorf("CardNameVariants missing %q, got %v", want, got)
		}
	}
	if !slices.IsSorted(got) {
		t.Errorf("variants not sorted: %v", got)
	}

	dot := lexicon.CardNameVariants("LOCA·LIKIT")
	if !slices.Contains(dot, "localikit") {
		t.Errorf("middle-dot removal missing, got %v", dot)
	}

	if v := lexicon.CardNameVariants("  "); v != nil {
		t.Errorf("CardNameVariants(blank) = %v, want nil", v)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()

	f, err := lexicon.ReadFile("")
	if err != nil {
		t.Fatal(err)
	}
	names := []string{"나라사랑카드", "K-패스 신한카드", "신한카드 Deep Dream"}
	a, err := lexicon.Build(f, names)
	if err != nil {
		t.Fatal(err)
	}
	b, err := lexicon.Build(f, []string{names[2], names[0], names[1]})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.CardNameSynonyms, b.CardNameSynonyms) {
		t.Error("card-name synonyms differ between builds with the same names")
	}
	if !reflect.DeepEqual(a.ActionSynonyms, b.ActionSynonyms) {
		t.Error("action synonyms differ between builds")
	}
	if !reflect.DeepEqual(a.CardNames(), []string{"K-패스 신한카드", "나라사랑카드", "신한카드 Deep Dream"}) {
		t.Errorf("CardNames() = %v", a.CardNames())
	}
}

func TestSurfaceForms_LongestFirst(t *testing.T) {
	t.Parallel()

	f, err := lexicon.ReadFile("")
	if err != nil {
		t.Fatal(err)
	}
	snap, err := lexicon.Build(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	forms := snap.SurfaceForms()
	for i := 1; i < len(forms); i++ {
		if len([]rune(forms[i-1])) < len([]rune(forms[i])) {
			t.Fatalf("forms[%d]=%q shorter than forms[%d]=%q", i-1, forms[i-1], i, forms[i])
		}
	}
}

func TestLoader_SourceFailureDegrades(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: errors.New("connection refused")}
	l, err := lexicon.NewLoader(context.Background(), "", src)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if n := len(l.Current().CardNameSynonyms); n != 0 {
		t.Errorf("card names = %d, want 0 when the source fails", n)
	}
	if len(l.Current().ActionSynonyms) == 0 {
		t.Error("action synonyms empty after degraded load")
	}
}

func TestLoader_ReloadSwapsSnapshot(t *testing.T) {
	t.Parallel()

	src := &fakeSource{names: []string{"나라사랑카드"}}
	l, err := lexicon.NewLoader(context.Background(), "", src)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	first := l.Current()

	src.names = []string{"나라사랑카드", "K-패스 신한카드"}
	if err := l.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	second := l.Current()
	if first == second {
		t.Fatal("Reload did not swap the snapshot")
	}
	if len(first.CardNameSynonyms) != 1 {
		t.Errorf("old snapshot mutated: %d card names", len(first.CardNameSynonyms))
	}
	if len(second.CardNameSynonyms) != 2 {
		t.Errorf("new snapshot has %d card names, want 2", len(second.CardNameSynonyms))
	}
}

func TestLoader_BadFileKeepsOldSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "keywords.yaml")
	good := "categories:\n  - {name: 분실, class: action, priority: 100}\nkeywords:\n  - {canonical: 분실, categories: [분실]}\n"
	if err := os.WriteFile(path, []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := lexicon.NewLoader(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	before := l.Current()

	bad := "categories:\n  - {name: 분실, class: nonsense, priority: 1}\n"
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Reload(context.Background()); err == nil {
		t.Fatal("Reload with invalid class: want error")
	}
	if l.Current() != before {
		t.Error("snapshot replaced after failed reload")
	}
}

func TestReadFile_UnknownField(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "k.yaml")
	if err := os.WriteFile(path, []byte("bogus: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := lexicon.ReadFile(path); err == nil {
		t.Fatal("ReadFile with unknown field: want error")
	}
}
