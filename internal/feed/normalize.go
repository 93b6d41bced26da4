package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/fleetdash/internal/model"
)

// Patch is one inbound notification with only the fields the wire carried.
// Absent fields leave existing values untouched when merged.
type Patch struct {
	ID        string
	Type      *model.NotificationType
	Title     *string
	Message   *string
	Timestamp *time.Time
	Read      *bool
}

type wireNotification struct {
	ID        json.RawMessage `json:"id"`
	Type      *string         `json:"type"`
	Title     *string         `json:"title"`
	Message   *string         `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
	Read      *bool           `json:"read"`
}

// DecodePatch normalizes a single JSON object. Only a missing or empty id
// rejects the item; an unknown type is mapped to default and an unreadable
// timestamp is treated as absent.
func DecodePatch(raw json.RawMessage) (Patch, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Patch{}, ErrMalformed
	}

	var w wireNotification
	if err := json.Unmarshal(raw, &w); err != nil {
		return Patch{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	id, err := parseID(w.ID)
	if err != nil {
		return Patch{}, err
	}

	p := Patch{
		ID:      id,
		Title:   w.Title,
		Message: w.Message,
		Read:    w.Read,
	}
	if w.Type != nil {
		t := model.ParseNotificationType(*w.Type)
		p.Type = &t
	}
	if ts, ok := parseTimestamp(w.Timestamp); ok {
		p.Timestamp = &ts
	}
	return p, nil
}

// DecodeBatch normalizes a JSON array of objects, or a single object.
// Malformed items are skipped and counted; they never abort the batch.
func DecodeBatch(raw json.RawMessage) ([]Patch, int, error) {
	items, err := splitItems(raw)
	if err != nil {
		return nil, 0, err
	}

	patches := make([]Patch, 0, len(items))
	dropped := 0
	for _, item := range items {
		p, err := DecodePatch(item)
		if err != nil {
			dropped++
			continue
		}
		patches = append(patches, p)
	}
	return patches, dropped, nil
}

// Record materializes the patch into a full record, filling defaults for
// absent fields.
func (p Patch) Record(now time.Time) model.Notification {
	n := model.Notification{
		ID:        p.ID,
		Type:      model.TypeDefault,
		Timestamp: now,
	}
	p.mergeInto(&n)
	return n
}

// mergeInto overwrites present fields. Read only ever moves to true.
func (p Patch) mergeInto(n *model.Notification) {
	if p.Type != nil {
		n.Type = *p.Type
	}
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Message != nil {
		n.Message = *p.Message
	}
	if p.Timestamp != nil {
		n.Timestamp = *p.Timestamp
	}
	if p.Read != nil && *p.Read {
		n.Read = true
	}
}

// Records materializes a batch of patches.
func Records(patches []Patch, now time.Time) []model.Notification {
	out := make([]model.Notification, len(patches))
	for i, p := range patches {
		out[i] = p.Record(now)
	}
	return out
}

func splitItems(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrMalformed
	}
	switch raw[0] {
	case '{':
		return []json.RawMessage{raw}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return items, nil
	default:
		return nil, ErrMalformed
	}
}

func parseID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ErrMissingID
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", ErrMissingID
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return n.String(), nil
	default:
		return "", fmt.Errorf("%w: id must be a string or number", ErrMalformed)
	}
}

// parseTimestamp accepts RFC 3339 strings or Unix milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, false
	}
	ms, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return time.Time{}, false
		}
		ms = int64(f)
	}
	return time.UnixMilli(ms).UTC(), true
}
