package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"campusfound/internal/ratelimit"
	"campusfound/internal/suggest"
	"campusfound/pkg/domain"
	"campusfound/pkg/store"
)

func structuredInput(itemType domain.ItemType) ReportInput {
	return ReportInput{
		Type:         itemType,
		Title:        "Black Wallet",
		Description:  "Black leather wallet with a zipper",
		Category:     domain.CategoryAccessories,
		LocationZone: domain.ZoneLibrary,
	}
}

func TestSubmitReportValidation(t *testing.T) {
	a, _ := newTestApp(t)
	caller := syncTestUser(t, a, "u1")
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*ReportInput)
	}{
		{"missing type", func(in *ReportInput) { in.Type = "" }},
		{"bad type", func(in *ReportInput) { in.Type = "stolen" }},
		{"title too short", func(in *ReportInput) { in.Title = "ab" }},
		{"title too long", func(in *ReportInput) { in.Title = strings.Repeat("x", titleMaxLen+1) }},
		{"description too short", func(in *ReportInput) { in.Description = strings.Repeat("x", descMinLen-1) }},
		{"description too long", func(in *ReportInput) { in.Description = strings.Repeat("x", descMaxLen+1) }},
		{"unknown category", func(in *ReportInput) { in.Category = "gadgets" }},
		{"unknown zone", func(in *ReportInput) { in.LocationZone = "moon" }},
		{"unparseable date", func(in *ReportInput) { in.Date = "yesterday-ish" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := structuredInput(domain.TypeLost)
			tc.mutate(&input)
			if _, err := a.SubmitReport(ctx, caller, input); !IsValidation(err) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}

	// Exactly at the bounds is accepted.
	input := structuredInput(domain.TypeLost)
	input.Title = strings.Repeat("x", titleMinLen)
	input.Description = strings.Repeat("x", descMinLen)
	if _, err := a.SubmitReport(ctx, caller, input); err != nil {
		t.Fatalf("boundary-length report rejected: %v", err)
	}
}

func TestSubmitReportParsesDateLayouts(t *testing.T) {
	a, _ := newTestApp(t)
	caller := syncTestUser(t, a, "u1")
	ctx := context.Background()

	input := structuredInput(domain.TypeFound)
	input.Date = "2026-08-30"
	item, err := a.SubmitReport(ctx, caller, input)
	if err != nil {
		t.Fatalf("date-only layout: %v", err)
	}
	if got := item.DateReported.Format("2006-01-02"); got != "2026-08-30" {
		t.Fatalf("date reported = %s, want 2026-08-30", got)
	}

	input = structuredInput(domain.TypeFound)
	input.Description = "A different wallet so the duplicate guard stays out"
	input.Date = "2026-08-30T14:30:00Z"
	if _, err := a.SubmitReport(ctx, caller, input); err != nil {
		t.Fatalf("RFC3339 layout: %v", err)
	}
}

func TestSubmitReportDuplicateWindow(t *testing.T) {
	a, _ := newTestApp(t)
	caller := syncTestUser(t, a, "u1")
	ctx := context.Background()

	t0 := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return t0 }

	first, err := a.SubmitReport(ctx, caller, structuredInput(domain.TypeLost))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// Identical resubmission inside the window returns the earlier report.
	a.now = func() time.Time { return t0.Add(30 * time.Second) }
	second, err := a.SubmitReport(ctx, caller, structuredInput(domain.TypeLost))
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("resubmission forked the report: %s vs %s", second.ID, first.ID)
	}

	// Same text from a different reporter is not a duplicate.
	other := syncTestUser(t, a, "u2")
	if item, err := a.SubmitReport(ctx, other, structuredInput(domain.TypeLost)); err != nil || item.ID == first.ID {
		t.Fatalf("other reporter's submission collapsed into the first: %v %s", err, item.ID)
	}

	// Same text as a found report is not a duplicate either.
	if item, err := a.SubmitReport(ctx, caller, structuredInput(domain.TypeFound)); err != nil || item.ID == first.ID {
		t.Fatalf("opposite-type submission collapsed into the first: %v %s", err, item.ID)
	}

	// Past the window a fresh report is created.
	a.now = func() time.Time { return t0.Add(61 * time.Second) }
	third, err := a.SubmitReport(ctx, caller, structuredInput(domain.TypeLost))
	if err != nil {
		t.Fatalf("submit after window: %v", err)
	}
	if third.ID == first.ID {
		t.Fatalf("report after the window must be a new one")
	}
}

func TestSubmitReportNeuralClassification(t *testing.T) {
	a, _ := newTestApp(t)
	caller := syncTestUser(t, a, "u1")
	ctx := context.Background()

	item, err := a.SubmitReport(ctx, caller, ReportInput{
		Type:  domain.TypeLost,
		Query: "black leather wallet somewhere near the library entrance",
	})
	if err != nil {
		t.Fatalf("neural submit: %v", err)
	}
	if item.Category != domain.CategoryAccessories {
		t.Fatalf("category = %q, want accessories", item.Category)
	}
	if item.LocationZone != domain.ZoneLibrary {
		t.Fatalf("zone = %q, want library", item.LocationZone)
	}
	if item.Title != "black leather wallet somewhere near the library" {
		t.Fatalf("derived title = %q", item.Title)
	}
	if item.Labels["query"] == "" {
		t.Fatalf("query label must be preserved, got %v", item.Labels)
	}

	// Text with no dictionary hits falls back to the catch-all buckets.
	fallback, err := a.SubmitReport(ctx, caller, ReportInput{
		Type:  domain.TypeFound,
		Query: "weird fuzzy thing somewhere around",
	})
	if err != nil {
		t.Fatalf("fallback submit: %v", err)
	}
	if fallback.Category != domain.CategoryOther || fallback.LocationZone != domain.ZoneOther {
		t.Fatalf("fallback = %q/%q, want other/other", fallback.Category, fallback.LocationZone)
	}

	if _, err := a.SubmitReport(ctx, caller, ReportInput{Type: domain.TypeLost, Query: "ab"}); !IsValidation(err) {
		t.Fatalf("short query err = %v, want validation error", err)
	}
}

func TestNeuralReportUsesSuggesterLabels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"suggestions": []map[string]any{
				{"label": "keys", "confidence": 0.91},
				{"label": "wallet", "confidence": 0.40},
			},
		})
	}))
	defer srv.Close()

	a := newSuggesterApp(t, suggest.NewClient(srv.URL))
	caller := syncTestUser(t, a, "u1")

	item, err := a.SubmitReport(context.Background(), caller, ReportInput{
		Type:  domain.TypeFound,
		Query: "small metal thing with a red tag",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if item.Labels["suggested"] != "keys" {
		t.Fatalf("suggested label = %q, want keys", item.Labels["suggested"])
	}
	// The suggester's label steers classification when the query alone
	// matches nothing.
	if item.Category != domain.CategoryKeys {
		t.Fatalf("category = %q, want keys", item.Category)
	}
}

func TestNeuralReportSurvivesSuggesterOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := newSuggesterApp(t, suggest.NewClient(srv.URL))
	caller := syncTestUser(t, a, "u1")

	item, err := a.SubmitReport(context.Background(), caller, ReportInput{
		Type:  domain.TypeLost,
		Query: "lost my phone charger in the cafeteria",
	})
	if err != nil {
		t.Fatalf("submit during suggester outage: %v", err)
	}
	if item.Category != domain.CategoryElectronics || item.LocationZone != domain.ZoneCafeteria {
		t.Fatalf("keyword fallback = %q/%q, want electronics/cafeteria", item.Category, item.LocationZone)
	}
	if _, ok := item.Labels["suggested"]; ok {
		t.Fatalf("no suggested label expected when the suggester fails")
	}
}

func TestSubmitReportRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter, err := ratelimit.New(client, "test:submit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	a, err := New(Config{Store: store.NewMemoryStore(), Limiter: limiter})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	caller := syncTestUser(t, a, "u1")
	ctx := context.Background()

	inputs := []string{
		"Black leather wallet with a zipper",
		"Blue umbrella with a wooden handle",
		"Grey hoodie size medium with hood strings",
	}
	first := domain.Item{}
	for i, desc := range inputs[:2] {
		input := structuredInput(domain.TypeLost)
		input.Description = desc
		item, err := a.SubmitReport(ctx, caller, input)
		if err != nil {
			t.Fatalf("submit %d under quota: %v", i, err)
		}
		if i == 0 {
			first = item
		}
	}

	input := structuredInput(domain.TypeLost)
	input.Description = inputs[2]
	if _, err := a.SubmitReport(ctx, caller, input); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("over-quota err = %v, want ErrRateLimited", err)
	}

	// A retry of an already-accepted report stays idempotent even with the
	// quota exhausted: the duplicate guard answers before the limiter.
	retry := structuredInput(domain.TypeLost)
	retry.Description = inputs[0]
	if item, err := a.SubmitReport(ctx, caller, retry); err != nil || item.ID != first.ID {
		t.Fatalf("exhausted-quota retry = (%v, %v), want the original item %s", item.ID, err, first.ID)
	}

	// The quota is per user.
	other := syncTestUser(t, a, "u2")
	if _, err := a.SubmitReport(ctx, other, input); err != nil {
		t.Fatalf("other user's submission: %v", err)
	}
}

func TestFindMatchesFilters(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := syncTestUser(t, a, "alice")
	bob := syncTestUser(t, a, "bob")

	lost := submitTestReport(t, a, alice, domain.TypeLost, "Lost Laptop", "Silver laptop lost in the lecture hall", domain.CategoryElectronics)

	match := submitTestReport(t, a, bob, domain.TypeFound, "Found Laptop", "Found a silver laptop under a seat", domain.CategoryElectronics)
	submitTestReport(t, a, bob, domain.TypeLost, "Also Lost", "Bob lost his own laptop this week too", domain.CategoryElectronics)
	submitTestReport(t, a, bob, domain.TypeFound, "Found Scarf", "Found a wool scarf on the stairs", domain.CategoryClothing)
	submitTestReport(t, a, alice, domain.TypeFound, "My Own Find", "Alice found somebody's laptop charger", domain.CategoryElectronics)
	resolvedItem := submitTestReport(t, a, bob, domain.TypeFound, "Returned Laptop", "Already handed this laptop back earlier", domain.CategoryElectronics)
	if err := a.ResolveItemDirect(ctx, bob, resolvedItem.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	matches, err := a.FindMatches(lost.ID)
	if err != nil {
		t.Fatalf("find matches: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != match.ID {
		t.Fatalf("matches = %+v, want only %s", matches, match.ID)
	}

	// Symmetry: the found report sees the lost one, plus Bob's own lost
	// report is excluded from his side.
	reverse, err := a.FindMatches(match.ID)
	if err != nil {
		t.Fatalf("reverse matches: %v", err)
	}
	ids := make(map[string]bool, len(reverse))
	for _, m := range reverse {
		ids[m.ID] = true
	}
	if !ids[lost.ID] {
		t.Fatalf("reverse matches %v must include %s", reverse, lost.ID)
	}

	if _, err := a.FindMatches("missing"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("missing item err = %v, want ErrItemNotFound", err)
	}
}

func TestDeleteItemAuthorization(t *testing.T) {
	a, mem := newTestApp(t)
	ctx := context.Background()
	owner := syncTestUser(t, a, "owner")
	stranger := syncTestUser(t, a, "stranger")

	item := submitTestReport(t, a, owner, domain.TypeFound, "Found Cap", "Found a baseball cap at the field", domain.CategoryClothing)
	chat, err := a.StartChat(stranger, item.ID, "")
	if err != nil {
		t.Fatalf("start chat: %v", err)
	}

	if err := a.DeleteItem(ctx, stranger, item.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("stranger delete err = %v, want ErrNotOwner", err)
	}

	moderator := domain.User{ID: "mod", Role: domain.RoleModerator}
	if err := a.DeleteItem(ctx, moderator, item.ID); err != nil {
		t.Fatalf("moderator delete: %v", err)
	}
	if _, ok, _ := mem.GetItem(item.ID); ok {
		t.Fatalf("item must be gone")
	}
	if _, ok, _ := mem.GetChat(chat.ID); ok {
		t.Fatalf("chats on the item must be gone too")
	}
}

func newSuggesterApp(t *testing.T, client *suggest.Client) *App {
	t.Helper()
	a, err := New(Config{Store: store.NewMemoryStore(), Suggester: client})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}
