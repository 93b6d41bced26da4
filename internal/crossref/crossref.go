package crossref

import (
	"regexp"
	"strings"
)

// Kind is the fleet entity a reference points at.
type Kind string

const (
	KindVehicle     Kind = "vehicle"
	KindDriver      Kind = "driver"
	KindRoute       Kind = "route"
	KindMaintenance Kind = "maintenance"
)

var prefixes = map[string]Kind{
	"VEH": KindVehicle,
	"DRV": KindDriver,
	"RTE": KindRoute,
	"MNT": KindMaintenance,
}

// refPattern matches fleet entity references (e.g., VEH-123, DRV-7).
var refPattern = regexp.MustCompile(`\b(VEH|DRV|RTE|MNT)-(\d+)\b`)

// Ref is one entity reference found in notification text.
type Ref struct {
	Kind Kind
	Key  string
}

// Extract finds all entity references in text, case-insensitively.
// Returns a deduplicated list preserving the order of first occurrence.
func Extract(text string) []Ref {
	matches := refPattern.FindAllStringSubmatch(strings.ToUpper(text), -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var result []Ref
	for _, m := range matches {
		key := m[0]
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, Ref{Kind: prefixes[m[1]], Key: key})
	}
	return result
}

// FromNotification extracts references from a title and message.
func FromNotification(title, message string) []Ref {
	return Extract(title + " " + message)
}

// Keys returns just the reference keys.
func Keys(refs []Ref) []string {
	if len(refs) == 0 {
		return nil
	}
	keys := make([]string, len(refs))
	for i, r := range refs {
		keys[i] = r.Key
	}
	return keys
}
