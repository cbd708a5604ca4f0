package router_test

import (
	"slices"
	"testing"
	"time"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/keyword"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/lexicon"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/session"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

var clock = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newRouter(t *testing.T, opts ...router.Option) *router.Router {
	t.Helper()
	f, err := lexicon.ReadFile("")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	snap, err := lexicon.Build(f, []string{"나라사랑카드", "K-패스 신한카드", "K-패스 신한카드(체크)"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	opts = append([]router.Option{router.WithClock(func() time.Time { return clock })}, opts...)
	return router.New(keyword.New(lexicon.Static(snap)), opts...)
}

func TestRoute_Scenarios(t *testing.T) {
	t.Parallel()

	r := newRouter(t)

	tests := []struct {
		name      string
		text      string
		search    bool
		route     router.Route
		db        router.DBRoute
		policy    router.Policy
		phone     bool
		applePay  string
		wantCards []string
	}{
		{
			name:      "narasarang loss",
			text:      "나라사랑 잃어버렸어요",
			search:    true,
			route:     router.RouteCardUsage,
			db:        router.DBGuide,
			policy:    router.PolicyA,
			wantCards: []string{"나라사랑카드"},
		},
		{
			name:      "k-pass benefit",
			text:      "k패스 다자녀 혜택 신청",
			search:    true,
			route:     router.RouteCardInfo,
			db:        router.DBBoth,
			policy:    router.PolicyB,
			wantCards: []string{"K-패스 신한카드"},
		},
		{
			name:     "apple pay registration",
			text:     "애플페이 등록이 안돼요",
			search:   true,
			route:    router.RouteCardUsage,
			db:       router.DBGuide,
			policy:   router.PolicyC,
			applePay: keyword.ApplePayAddCard,
		},
		{
			name:   "filler",
			text:   "그냥 궁금해서요",
			search: false,
			route:  router.RouteNone,
		},
		{
			name:   "phone lookup",
			text:   "신한카드 고객센터 전화번호 뭐에요",
			search: true,
			route:  router.RouteCardUsage,
			db:     router.DBGuide,
			policy: router.PolicyA,
			phone:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := r.Route(tc.text, nil, nil)
			if d.ShouldSearch != tc.search {
				t.Fatalf("ShouldSearch = %v, want %v (%+v)", d.ShouldSearch, tc.search, d)
			}
			if d.Route != tc.route {
				t.Errorf("Route = %q, want %q", d.Route, tc.route)
			}
			if !tc.search {
				return
			}
			if d.DBRoute != tc.db {
				t.Errorf("DBRoute = %q, want %q", d.DBRoute, tc.db)
			}
			if d.DocumentSourcePolicy != tc.policy {
				t.Errorf("Policy = %q, want %q", d.DocumentSourcePolicy, tc.policy)
			}
			if d.Filters.PhoneLookup != tc.phone {
				t.Errorf("PhoneLookup = %v, want %v", d.Filters.PhoneLookup, tc.phone)
			}
			if d.ApplePayIntent != tc.applePay {
				t.Errorf("ApplePayIntent = %q, want %q", d.ApplePayIntent, tc.applePay)
			}
			for _, c := range tc.wantCards {
				if !slices.Contains(d.Filters.CardNames, c) {
					t.Errorf("CardNames = %v, missing %q", d.Filters.CardNames, c)
				}
			}
		})
	}
}

func TestRoute_ApplePayScopes(t *testing.T) {
	t.Parallel()

	r := newRouter(t)

	add := r.Route("애플페이 등록이 안돼요", nil, nil)
	if !slices.Equal(add.DocumentSources, []string{types.SourceApplePay}) {
		t.Errorf("DocumentSources = %v, want only %s", add.DocumentSources, types.SourceApplePay)
	}
	if add.Filters.IDPrefix != types.SourceApplePay {
		t.Errorf("IDPrefix = %q, want %q", add.Filters.IDPrefix, types.SourceApplePay)
	}

	loss := r.Route("애플페이 폰을 잃어버렸어요", nil, nil)
	if loss.DocumentSourcePolicy != router.PolicyC {
		t.Fatalf("Policy = %q, want C", loss.DocumentSourcePolicy)
	}
	if loss.DBRoute != router.DBGuide {
		t.Errorf("DBRoute = %q, want guide-only", loss.DBRoute)
	}
	if loss.Filters.IDPrefix != "" || len(loss.Filters.Intent) != 0 {
		t.Errorf("loss filters not loosened: %+v", loss.Filters)
	}
	if !slices.Contains(loss.DocumentSources, types.SourceGuideMerged) {
		t.Errorf("DocumentSources = %v, want merged guides for loss", loss.DocumentSources)
	}
}

func TestRoute_NonApplePayExcludesApplePay(t *testing.T) {
	t.Parallel()

	d := newRouter(t).Route("카드 한도 조회", nil, nil)
	if !slices.Contains(d.ExcludeSources, types.SourceApplePay) {
		t.Errorf("ExcludeSources = %v, want %s", d.ExcludeSources, types.SourceApplePay)
	}
}

func TestRoute_StickyInheritance(t *testing.T) {
	t.Parallel()

	r := newRouter(t)

	st := session.New("call", clock)
	st.Turn = 1
	st.SetCardNames([]string{"나라사랑카드"}, clock.Add(-time.Minute))
	st.Turn = 2

	d := r.Route("분실 신고 하려고요", nil, st)
	if !d.Inherited.CardNames {
		t.Fatalf("Inherited.CardNames = false, want true (%+v)", d.Filters)
	}
	if !slices.Equal(d.Filters.CardNames, []string{"나라사랑카드"}) {
		t.Errorf("CardNames = %v", d.Filters.CardNames)
	}
	if st.CardNames[0] != "나라사랑카드" || st.Turn != 2 {
		t.Error("Route mutated the session state")
	}

	stale := session.New("call", clock)
	stale.Turn = 1
	stale.SetCardNames([]string{"나라사랑카드"}, clock.Add(-10*time.Minute))
	stale.Turn = 2
	d = r.Route("분실 신고 하려고요", nil, stale)
	if d.Inherited.CardNames || len(d.Filters.CardNames) != 0 {
		t.Errorf("stale slot inherited: %+v", d.Filters)
	}
	if !d.Inherited.ClearCardNames {
		t.Error("Inherited.ClearCardNames = false for a stale slot")
	}
}

func TestRoute_RequireVocabMatchRelaxed(t *testing.T) {
	t.Parallel()

	st := session.New("call", clock)
	st.Turn = 1
	st.SetCardNames([]string{"나라사랑카드"}, clock)
	st.Turn = 2

	strict := newRouter(t)
	if d := strict.Route("그럼 그건 어떻게요", nil, st); d.ShouldSearch {
		t.Errorf("strict router searched without vocabulary: %+v", d)
	}

	relaxed := newRouter(t, router.WithRequireVocabMatch(false))
	d := relaxed.Route("그럼 그건 어떻게요", nil, st)
	if !d.ShouldSearch || d.Route != router.RouteCardInfo {
		t.Errorf("relaxed router: ShouldSearch=%v Route=%q, want true/card_info", d.ShouldSearch, d.Route)
	}
}

func TestRoute_ConsultSignal(t *testing.T) {
	t.Parallel()

	r := newRouter(t)
	if d := r.Route("나라사랑카드", nil, nil); d.NeedConsultCaseSearch {
		t.Error("card-name-only utterance asked for consult search")
	}
	if d := r.Route("나라사랑 분실", nil, nil); !d.NeedConsultCaseSearch {
		t.Error("action utterance did not ask for consult search")
	}
}

func TestRoute_Deterministic(t *testing.T) {
	t.Parallel()

	r := newRouter(t)
	a := r.Route("k패스 다자녀 혜택 신청", nil, nil)
	b := r.Route("k패스 다자녀 혜택 신청", nil, nil)
	if !slices.Equal(a.Filters.Entries(), b.Filters.Entries()) || a.QueryTemplate != b.QueryTemplate {
		t.Errorf("decisions differ: %+v vs %+v", a, b)
	}
}

func TestFilters_EntriesOrderIndependent(t *testing.T) {
	t.Parallel()

	a := router.Filters{Intent: []string{"분실", "정지"}, CardNames: []string{"b", "a"}}
	b := router.Filters{Intent: []string{"정지", "분실"}, CardNames: []string{"a", "b"}}
	if !slices.Equal(a.Entries(), b.Entries()) {
		t.Errorf("Entries differ: %v vs %v", a.Entries(), b.Entries())
	}
	if !slices.IsSorted(a.Entries()) {
		t.Errorf("Entries not sorted: %v", a.Entries())
	}
}

func TestDecision_WithRouteRecomputes(t *testing.T) {
	t.Parallel()

	d := newRouter(t).Route("k패스 다자녀 혜택 신청", nil, nil)
	flipped := d.WithRoute(d.Route.Flip())
	if flipped.Route != router.RouteCardUsage {
		t.Fatalf("flipped route = %q", flipped.Route)
	}
	if flipped.DBRoute != router.DBGuide {
		t.Errorf("flipped DBRoute = %q, want guide", flipped.DBRoute)
	}
	if d.Route != router.RouteCardInfo {
		t.Error("WithRoute mutated the original decision")
	}
}
