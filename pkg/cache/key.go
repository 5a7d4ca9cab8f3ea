package cache

import (
	"fmt"
	"sort"
	"strings"
)

// Key identifies a cached upstream result. Free-text components are
// normalized so two requests differing only by case or surrounding
// whitespace address the same entry.
type Key struct {
	// Kind is the logical request type (e.g. "search", "recipe").
	Kind string

	// Term is the free-text component (e.g. a search term).
	Term string

	// Page is the result page number (0 when not paginated).
	Page int

	// Filters are additional request parameters (e.g. diet, cuisine).
	Filters map[string]string
}

// SearchKey builds the key for a recipe search request.
func SearchKey(term string, page int, filters map[string]string) Key {
	return Key{Kind: "search", Term: term, Page: page, Filters: filters}
}

// RecipeKey builds the key for a single-recipe lookup.
func RecipeKey(id int64) Key {
	return Key{Kind: "recipe", Term: fmt.Sprintf("%d", id)}
}

// String generates a deterministic normalized key string.
// Format: kind:term:page:filter1=val1:filter2=val2
//
// Example:
//
//	search:pasta:1:diet=vegan
func (k Key) String() string {
	parts := []string{k.Kind, Normalize(k.Term)}

	if k.Page > 0 {
		parts = append(parts, fmt.Sprintf("%d", k.Page))
	}

	// Filters sorted for determinism.
	if len(k.Filters) > 0 {
		names := make([]string, 0, len(k.Filters))
		for name := range k.Filters {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, Normalize(k.Filters[name])))
		}
	}

	return strings.Join(parts, ":")
}

// Normalize lower-cases and trims a free-text key component.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
