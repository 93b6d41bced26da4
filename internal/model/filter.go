package model

import (
	"fmt"
	"strings"
)

// TypeFilter selects notifications by type. TypeFilterAll disables it.
type TypeFilter string

const TypeFilterAll TypeFilter = "all"

// StatusFilter selects notifications by read state.
type StatusFilter string

const (
	StatusAll    StatusFilter = "all"
	StatusUnread StatusFilter = "unread"
	StatusRead   StatusFilter = "read"
)

// SortOrder is the timestamp ordering of the projected feed.
type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
)

// FeedFilter is the view configuration applied to the canonical store.
type FeedFilter struct {
	Type   TypeFilter   `mapstructure:"type" yaml:"type"`
	Status StatusFilter `mapstructure:"status" yaml:"status"`
	Search string       `mapstructure:"search" yaml:"search"`
	SortBy SortOrder    `mapstructure:"sort" yaml:"sort"`
}

// DefaultFeedFilter shows everything, newest first.
func DefaultFeedFilter() FeedFilter {
	return FeedFilter{
		Type:   TypeFilterAll,
		Status: StatusAll,
		SortBy: SortNewest,
	}
}

// ParseTypeFilter accepts "all" or one of the notification types.
func ParseTypeFilter(s string) (TypeFilter, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" || v == string(TypeFilterAll) {
		return TypeFilterAll, nil
	}
	for _, t := range NotificationTypes {
		if string(t) == v {
			return TypeFilter(t), nil
		}
	}
	return "", fmt.Errorf("unknown type filter %q", s)
}

// ParseStatusFilter accepts "all", "unread" or "read".
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch StatusFilter(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatusAll:
		return StatusAll, nil
	case StatusUnread:
		return StatusUnread, nil
	case StatusRead:
		return StatusRead, nil
	}
	return "", fmt.Errorf("unknown status filter %q", s)
}

// ParseSortOrder accepts "newest" or "oldest".
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortNewest:
		return SortNewest, nil
	case SortOldest:
		return SortOldest, nil
	}
	return "", fmt.Errorf("unknown sort order %q", s)
}

// Normalized replaces empty or invalid fields with their defaults.
func (f FeedFilter) Normalized() FeedFilter {
	out := f
	if t, err := ParseTypeFilter(string(f.Type)); err == nil {
		out.Type = t
	} else {
		out.Type = TypeFilterAll
	}
	if s, err := ParseStatusFilter(string(f.Status)); err == nil {
		out.Status = s
	} else {
		out.Status = StatusAll
	}
	if o, err := ParseSortOrder(string(f.SortBy)); err == nil {
		out.SortBy = o
	} else {
		out.SortBy = SortNewest
	}
	return out
}

// NextType cycles all -> alert -> success -> info -> default -> all.
func (f FeedFilter) NextType() TypeFilter {
	cycle := []TypeFilter{TypeFilterAll}
	for _, t := range NotificationTypes {
		cycle = append(cycle, TypeFilter(t))
	}
	for i, t := range cycle {
		if t == f.Type {
			return cycle[(i+1)%len(cycle)]
		}
	}
	return TypeFilterAll
}

// NextStatus cycles all -> unread -> read -> all.
func (f FeedFilter) NextStatus() StatusFilter {
	switch f.Status {
	case StatusAll:
		return StatusUnread
	case StatusUnread:
		return StatusRead
	default:
		return StatusAll
	}
}

// ToggleSort flips between newest and oldest.
func (f FeedFilter) ToggleSort() SortOrder {
	if f.SortBy == SortOldest {
		return SortNewest
	}
	return SortOldest
}
