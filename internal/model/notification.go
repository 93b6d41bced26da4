package model

import (
	"strings"
	"time"
)

// NotificationType classifies a feed notification. The set is closed:
// anything the backend sends outside of it is treated as TypeDefault.
type NotificationType string

const (
	TypeAlert   NotificationType = "alert"
	TypeSuccess NotificationType = "success"
	TypeInfo    NotificationType = "info"
	TypeDefault NotificationType = "default"
)

// NotificationTypes lists every valid type in display order.
var NotificationTypes = []NotificationType{TypeAlert, TypeSuccess, TypeInfo, TypeDefault}

// ParseNotificationType maps a wire value onto the closed type set.
func ParseNotificationType(s string) NotificationType {
	switch NotificationType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeAlert:
		return TypeAlert
	case TypeSuccess:
		return TypeSuccess
	case TypeInfo:
		return TypeInfo
	default:
		return TypeDefault
	}
}

// Notification is a single entry in the fleet notification feed.
type Notification struct {
	// ID is the server-assigned identifier. It is stable across updates.
	ID string `json:"id"`

	// Type drives the badge and colour of the entry.
	Type NotificationType `json:"type"`

	// Title is the short headline shown in the list.
	Title string `json:"title"`

	// Message is the body text.
	Message string `json:"message"`

	// Timestamp is when the event happened, not when it was received.
	Timestamp time.Time `json:"timestamp"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read"`
}

// FeedSnapshot is a point-in-time export of the feed, used to warm the
// dashboard from the local cache before the first resync completes.
type FeedSnapshot struct {
	// Records are ordered by arrival.
	Records []Notification

	// Tombstones are ids deleted locally that must not reappear.
	Tombstones []string

	SavedAt time.Time
}
