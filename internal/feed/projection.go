package feed

import (
	"sort"
	"strings"

	"github.com/nhle/fleetdash/internal/model"
)

// Project filters and sorts records into the display list. It is pure: the
// input slice is never modified, and equal timestamps keep input order.
func Project(records []model.Notification, f model.FeedFilter) []model.Notification {
	f = f.Normalized()
	needle := strings.ToLower(f.Search)

	out := make([]model.Notification, 0, len(records))
	for _, r := range records {
		if matches(r, f, needle) {
			out = append(out, r)
		}
	}

	newest := f.SortBy != model.SortOldest
	sort.SliceStable(out, func(i, j int) bool {
		if newest {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// matches expects f normalized and needle lowercased. Whitespace in the
// needle is significant.
func matches(r model.Notification, f model.FeedFilter, needle string) bool {
	if f.Type != model.TypeFilterAll && model.TypeFilter(r.Type) != f.Type {
		return false
	}
	switch f.Status {
	case model.StatusUnread:
		if r.Read {
			return false
		}
	case model.StatusRead:
		if !r.Read {
			return false
		}
	}
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(r.Title), needle) ||
		strings.Contains(strings.ToLower(r.Message), needle)
}
