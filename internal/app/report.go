package app

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"campusfound/internal/suggest"
	"campusfound/internal/util"
	"campusfound/pkg/domain"
)

const (
	titleMinLen = 3
	titleMaxLen = 50
	descMinLen  = 10
	descMaxLen  = 500
)

// ReportInput carries a lost/found submission. Either the structured fields
// are set, or Query holds the free-text shorthand (LabelHint optionally
// carrying the client-side classifier's guess).
type ReportInput struct {
	Type         domain.ItemType
	Title        string
	Description  string
	Category     domain.Category
	LocationZone domain.Zone
	Date         string
	ImageURL     string
	Query        string
	LabelHint    string
}

// SubmitReport validates and persists a report. Submitting the identical
// report twice within the duplicate window returns the earlier item instead
// of inserting a second one, so a double-tap or a network retry cannot fork
// the listing. The duplicate check runs before the quota check: a retry of
// an already-accepted report must stay idempotent, not trip the limiter.
func (a *App) SubmitReport(ctx context.Context, caller domain.User, input ReportInput) (domain.Item, error) {
	var item domain.Item
	var err error
	if strings.TrimSpace(input.Query) != "" {
		item, err = a.buildNeuralReport(ctx, caller, input)
	} else {
		item, err = a.buildStructuredReport(caller, input)
	}
	if err != nil {
		return domain.Item{}, err
	}

	since := a.now().Add(-a.duplicateWindow)
	if prior, ok, err := a.store.FindRecentDuplicate(caller.ID, item.Type, item.Description, since); err != nil {
		return domain.Item{}, fmt.Errorf("duplicate check: %w", err)
	} else if ok {
		return prior, nil
	}

	if !a.limiter.Allow(caller.ID) {
		return domain.Item{}, ErrRateLimited
	}

	if err := a.store.CreateItem(item); err != nil {
		return domain.Item{}, fmt.Errorf("create item: %w", err)
	}
	a.listing.Invalidate(ctx)
	return item, nil
}

func (a *App) buildStructuredReport(caller domain.User, input ReportInput) (domain.Item, error) {
	if input.Type != domain.TypeLost && input.Type != domain.TypeFound {
		return domain.Item{}, validationf("type must be lost or found")
	}
	title := strings.TrimSpace(input.Title)
	if n := len([]rune(title)); n < titleMinLen || n > titleMaxLen {
		return domain.Item{}, validationf("title must be %d-%d characters", titleMinLen, titleMaxLen)
	}
	description := strings.TrimSpace(input.Description)
	if n := len([]rune(description)); n < descMinLen || n > descMaxLen {
		return domain.Item{}, validationf("description must be %d-%d characters", descMinLen, descMaxLen)
	}
	if !input.Category.Valid() {
		return domain.Item{}, validationf("unknown category %q", input.Category)
	}
	if !input.LocationZone.Valid() {
		return domain.Item{}, validationf("unknown location zone %q", input.LocationZone)
	}
	date, err := a.parseReportDate(input.Date)
	if err != nil {
		return domain.Item{}, err
	}

	now := a.now()
	return domain.Item{
		ID:           uuid.NewString(),
		ReporterID:   caller.ID,
		Type:         input.Type,
		Title:        title,
		Description:  description,
		Category:     input.Category,
		LocationZone: input.LocationZone,
		DateReported: date,
		ImageURL:     strings.TrimSpace(input.ImageURL),
		Status:       domain.ItemOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// buildNeuralReport derives a structured report from free text. The label
// suggester is best-effort: when it is absent or failing, classification
// falls back to the keyword dictionaries and finally to Other.
func (a *App) buildNeuralReport(ctx context.Context, caller domain.User, input ReportInput) (domain.Item, error) {
	if input.Type != domain.TypeLost && input.Type != domain.TypeFound {
		return domain.Item{}, validationf("type must be lost or found")
	}
	query := strings.TrimSpace(input.Query)
	if len([]rune(query)) < titleMinLen {
		return domain.Item{}, validationf("query must be at least %d characters", titleMinLen)
	}
	if n := len([]rune(query)); n > descMaxLen {
		return domain.Item{}, validationf("query must be at most %d characters", descMaxLen)
	}

	hint := strings.TrimSpace(input.LabelHint)
	labels := map[string]string{"query": query}
	if hint != "" {
		labels["hint"] = hint
	}
	if a.suggester != nil {
		if suggestions, err := a.suggester.Suggest(ctx, query); err != nil {
			util.LoggerFromContext(ctx).Warn("label suggester unavailable", "err", err)
		} else if best := suggest.Best(suggestions); best != "" {
			labels["suggested"] = best
			if hint == "" {
				hint = best
			}
		}
	}

	classified := query + " " + hint
	category := classifyCategory(classified)
	zone := classifyZone(classified)

	now := a.now()
	return domain.Item{
		ID:           uuid.NewString(),
		ReporterID:   caller.ID,
		Type:         input.Type,
		Title:        deriveTitle(query),
		Description:  query,
		Category:     category,
		LocationZone: zone,
		DateReported: now,
		Labels:       labels,
		Status:       domain.ItemOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (a *App) parseReportDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return a.now(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, validationf("date %q is not parseable", raw)
}

// deriveTitle clamps the free-text query into the title length bounds,
// cutting at a word boundary when one is close enough.
func deriveTitle(query string) string {
	runes := []rune(query)
	if len(runes) <= titleMaxLen {
		return query
	}
	clipped := string(runes[:titleMaxLen])
	if idx := strings.LastIndex(clipped, " "); idx >= titleMinLen {
		clipped = clipped[:idx]
	}
	return clipped
}

var categoryKeywords = map[domain.Category][]string{
	domain.CategoryElectronics: {"phone", "iphone", "laptop", "charger", "earbuds", "airpods", "headphones", "tablet", "camera", "calculator", "powerbank"},
	domain.CategoryDocuments:   {"id", "card", "passport", "license", "certificate", "transcript", "document"},
	domain.CategoryAccessories: {"wallet", "purse", "bag", "backpack", "umbrella", "bottle", "glasses", "sunglasses", "watch", "ring", "necklace", "bracelet"},
	domain.CategoryClothing:    {"jacket", "hoodie", "coat", "sweater", "scarf", "gloves", "cap", "hat", "shoes", "sneakers"},
	domain.CategoryBooks:       {"book", "textbook", "notebook", "novel", "binder", "notes"},
	domain.CategoryKeys:        {"key", "keys", "keychain", "fob"},
}

var zoneKeywords = map[domain.Zone][]string{
	domain.ZoneLibrary:   {"library"},
	domain.ZoneCafeteria: {"cafeteria", "canteen", "cafe", "dining"},
	domain.ZoneLectures:  {"lecture", "classroom", "auditorium", "seminar", "lab"},
	domain.ZoneDorms:     {"dorm", "dormitory", "hostel", "residence"},
	domain.ZoneSports:    {"gym", "stadium", "pool", "court", "field", "sports"},
	domain.ZoneParking:   {"parking", "garage", "bike"},
}

func classifyCategory(text string) domain.Category {
	words := tokenize(text)
	for _, category := range domain.Categories {
		if matchesAny(words, categoryKeywords[category]) {
			return category
		}
	}
	return domain.CategoryOther
}

func classifyZone(text string) domain.Zone {
	words := tokenize(text)
	for _, zone := range domain.Zones {
		if matchesAny(words, zoneKeywords[zone]) {
			return zone
		}
	}
	return domain.ZoneOther
}

// tokenize lowercases and splits on non-alphanumeric runes so dictionary
// words match whole tokens only ("id" must not match inside "outside").
func tokenize(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func matchesAny(words map[string]bool, keywords []string) bool {
	for _, kw := range keywords {
		if words[kw] {
			return true
		}
	}
	return false
}
