// Package diff computes field-level differences between two person state
// snapshots. It is pure: no store access, no mutation of its inputs.
package diff

import (
	"maps"
	"slices"
	"strings"

	"rollcall/internal/people/models"
)

// FieldChange describes one changed field. Before/After are rendered values;
// an empty string means the field (or map key) was absent on that side.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Changes compares two full snapshots field by field. Nested per-election
// keys (standing_in, parties) are compared independently so an election
// added, removed, or changed shows up as its own entry. The result is
// produced in a deterministic field order for stable display; comparing a
// snapshot against itself yields nil.
func Changes(older, newer models.PersonState) []FieldChange {
	var out []FieldChange

	if older.Name != newer.Name {
		out = append(out, FieldChange{Field: "name", Before: older.Name, After: newer.Name})
	}

	beforeNames := strings.Join(older.OtherNames, "; ")
	afterNames := strings.Join(newer.OtherNames, "; ")
	if beforeNames != afterNames {
		out = append(out, FieldChange{Field: "other_names", Before: beforeNames, After: afterNames})
	}

	for _, key := range unionKeys(older.Attributes, newer.Attributes) {
		before, after := older.Attributes[key], newer.Attributes[key]
		if before != after {
			out = append(out, FieldChange{Field: "attributes." + key, Before: before, After: after})
		}
	}

	for _, slug := range unionKeys(older.StandingIn, newer.StandingIn) {
		before := renderStanding(older.StandingIn, slug)
		after := renderStanding(newer.StandingIn, slug)
		if before != after {
			out = append(out, FieldChange{Field: "standing_in." + slug, Before: before, After: after})
		}
	}

	for _, slug := range unionKeys(older.Parties, newer.Parties) {
		before, after := older.Parties[slug], newer.Parties[slug]
		if before != after {
			out = append(out, FieldChange{Field: "parties." + slug, Before: before, After: after})
		}
	}

	return out
}

func renderStanding(m map[string]models.Standing, slug string) string {
	standing, ok := m[slug]
	if !ok {
		return ""
	}
	if !standing.Standing {
		return "not standing"
	}
	s := "standing: " + standing.BallotID
	if standing.PostName != "" {
		s += " (" + standing.PostName + ")"
	}
	return s
}

func unionKeys[V any](a, b map[string]V) []string {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	return slices.Sorted(maps.Keys(keys))
}
