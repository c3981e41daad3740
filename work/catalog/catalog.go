package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"

	"ott-proxy/work/logger"
)

var (
	// ErrItemNotFound is returned for item IDs the resolver does not know.
	ErrItemNotFound = errors.New("item not found")

	// ErrNoStream is returned when an item exists but has nothing playable.
	ErrNoStream = errors.New("no stream available")
)

// Quality is one downloadable rendition of an item.
type Quality struct {
	Resolution int    `json:"resolution"` // vertical lines, 0 when unknown
	Size       int64  `json:"size"`       // bytes, 0 when unknown
	URL        string `json:"-"`          // upstream media URL, never exposed
}

// Item is the normalized catalog record.
type Item struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Image     string    `json:"image"`
	Genre     []string  `json:"genre"`
	Year      string    `json:"year"`
	Qualities []Quality `json:"-"`
	SourceURL string    `json:"-"` // single stream used when no quality list exists
}

// Resolver is the metadata collaborator the service depends on.
type Resolver interface {
	ListQualities(ctx context.Context, itemID string) ([]Quality, error)
	Resolve(ctx context.Context, itemID, quality string) (Quality, error)
	Lookup(ctx context.Context, itemID string) (Item, error)
}

// Normalize maps the differently shaped item records upstream sources return
// onto one Item.
func Normalize(raw map[string]any) Item {
	item := Item{
		ID:    firstString(raw, "id", "subjectId", "subject_id"),
		Title: firstString(raw, "title", "name"),
		Year:  "N/A",
	}

	for _, key := range []string{"image", "cover", "img"} {
		if image := imageURL(raw[key]); image != "" {
			item.Image = image
			break
		}
	}

	switch genre := raw["genre"].(type) {
	case string:
		item.Genre = lo.Compact(lo.Map(strings.Split(genre, ","), func(g string, _ int) string {
			return strings.TrimSpace(g)
		}))
	case []any:
		item.Genre = lo.Compact(lo.FilterMap(genre, func(g any, _ int) (string, bool) {
			s, ok := g.(string)
			return s, ok
		}))
	}

	if year := firstString(raw, "releaseDate", "year"); year != "" {
		// release dates look like 2021-03-04
		if len(year) >= 4 {
			if _, err := strconv.Atoi(year[:4]); err == nil {
				year = year[:4]
			}
		}
		item.Year = year
	}

	if downloads, ok := raw["downloads"].([]any); ok {
		for _, d := range downloads {
			entry, ok := d.(map[string]any)
			if !ok {
				continue
			}
			link := firstString(entry, "url")
			if link == "" {
				continue
			}
			item.Qualities = append(item.Qualities, Quality{
				Resolution: resolution(entry["resolution"]),
				Size:       int64(number(entry["size"])),
				URL:        link,
			})
		}
	}
	item.SourceURL = firstString(raw, "url", "stream_url")

	return item
}

// Label is the display label of a quality, {res}p or 720p when unknown.
func (q Quality) Label() string {
	if q.Resolution <= 0 {
		return "720p"
	}
	return strconv.Itoa(q.Resolution) + "p"
}

// Matches reports whether q satisfies a requested quality such as 1080P or 720p.
func (q Quality) Matches(requested string) bool {
	if strings.EqualFold(q.Label(), requested) {
		return true
	}
	return q.Resolution > 0 && strings.Contains(requested, strconv.Itoa(q.Resolution))
}

func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func imageURL(v any) string {
	switch img := v.(type) {
	case string:
		return img
	case map[string]any:
		if u, ok := img["url"].(string); ok {
			return u
		}
	}
	return ""
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}

func resolution(v any) int {
	if s, ok := v.(string); ok {
		v = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "p")
	}
	return int(number(v))
}

// Searcher is implemented by resolvers that can find items by title.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Item, error)
}

// StaticResolver serves a fixed catalog loaded from a JSON file.
type StaticResolver struct {
	items  map[string]Item
	titles []string // parallel to order, for fuzzy search
	order  []string
}

// NewStaticResolver indexes items by ID. Items without an ID are skipped.
func NewStaticResolver(items []Item) *StaticResolver {
	sr := &StaticResolver{items: make(map[string]Item, len(items))}
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if _, dup := sr.items[item.ID]; !dup {
			sr.order = append(sr.order, item.ID)
			sr.titles = append(sr.titles, item.Title)
		}
		sr.items[item.ID] = item
	}
	return sr
}

// LoadFile reads a JSON array of raw item records. An empty path yields an
// empty resolver.
func LoadFile(path string) (*StaticResolver, error) {
	if path == "" {
		return NewStaticResolver(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		items = append(items, Normalize(r))
	}

	sr := NewStaticResolver(items)
	logger.Info("{catalog/catalog - LoadFile} Loaded %d catalog items from %s", sr.Len(), path)
	return sr, nil
}

// Len returns the number of indexed items.
func (sr *StaticResolver) Len() int {
	return len(sr.items)
}

// IDs returns every item ID in catalog file order.
func (sr *StaticResolver) IDs() []string {
	return append([]string(nil), sr.order...)
}

// Search ranks items whose title fuzzily contains query, closest first.
// Matching ignores case and diacritics.
func (sr *StaticResolver) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	ranks := fuzzy.RankFindNormalizedFold(query, sr.titles)
	sort.Stable(ranks)
	if limit > 0 && len(ranks) > limit {
		ranks = ranks[:limit]
	}

	return lo.Map(ranks, func(r fuzzy.Rank, _ int) Item {
		return sr.items[sr.order[r.OriginalIndex]]
	}), nil
}

// Lookup returns the item with itemID, or ErrItemNotFound when the catalog
// does not contain it.
func (sr *StaticResolver) Lookup(ctx context.Context, itemID string) (Item, error) {
	item, ok := sr.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

// ListQualities returns a copy of the downloadable qualities of itemID in
// catalog order. Items that only carry a source URL have an empty listing.
func (sr *StaticResolver) ListQualities(ctx context.Context, itemID string) ([]Quality, error) {
	item, err := sr.Lookup(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return append([]Quality(nil), item.Qualities...), nil
}

// Resolve picks the quality of itemID matching quality. Without a match it
// falls back to the first listed quality, then to the item's source URL, and
// returns ErrNoStream when neither exists.
func (sr *StaticResolver) Resolve(ctx context.Context, itemID, quality string) (Quality, error) {
	item, err := sr.Lookup(ctx, itemID)
	if err != nil {
		return Quality{}, err
	}

	for _, q := range item.Qualities {
		if q.Matches(quality) {
			return q, nil
		}
	}
	if len(item.Qualities) > 0 {
		return item.Qualities[0], nil
	}
	if item.SourceURL != "" {
		return Quality{URL: item.SourceURL}, nil
	}
	return Quality{}, ErrNoStream
}
