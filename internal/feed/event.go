package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventKind is the discriminator of a push envelope.
type EventKind string

const (
	EventCreated     EventKind = "created"
	EventUpdated     EventKind = "updated"
	EventDeleted     EventKind = "deleted"
	EventBulkReplace EventKind = "bulk-replace"
)

// Event is a decoded push envelope.
type Event struct {
	Kind EventKind

	// Patches holds the records of created, updated and bulk-replace events.
	Patches []Patch

	// IDs holds the targets of a deleted event.
	IDs []string

	// Dropped counts payload items rejected during normalization.
	Dropped int
}

type envelope struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEvent validates and decodes one push frame.
func DecodeEvent(data []byte) (Event, error) {
	if err := validateEnvelope(data); err != nil {
		return Event{}, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ev := Event{Kind: env.Kind}
	switch env.Kind {
	case EventCreated, EventUpdated, EventBulkReplace:
		patches, dropped, err := DecodeBatch(env.Payload)
		if err != nil {
			return Event{}, err
		}
		ev.Patches, ev.Dropped = patches, dropped
	case EventDeleted:
		ids, dropped, err := decodeIDs(env.Payload)
		if err != nil {
			return Event{}, err
		}
		ev.IDs, ev.Dropped = ids, dropped
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	return ev, nil
}

// EncodeEvent builds a push frame. Used by the development server.
func EncodeEvent(kind EventKind, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	return json.Marshal(envelope{Kind: kind, Payload: raw})
}

func decodeIDs(raw json.RawMessage) ([]string, int, error) {
	items, err := splitItems(raw)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]string, 0, len(items))
	dropped := 0
	for _, item := range items {
		// Arrays may also carry bare ids.
		if trimmed := bytes.TrimSpace(item); len(trimmed) > 0 && trimmed[0] != '{' {
			id, err := parseID(trimmed)
			if err != nil {
				dropped++
				continue
			}
			ids = append(ids, id)
			continue
		}

		var w struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(item, &w); err != nil {
			dropped++
			continue
		}
		id, err := parseID(w.ID)
		if err != nil {
			dropped++
			continue
		}
		ids = append(ids, id)
	}
	return ids, dropped, nil
}
