package stash

import (
	"fmt"
	"strings"
)

type Category string

const (
	Weapons   Category = "Weapons"
	Drugs     Category = "Drugs"
	Materials Category = "Materials"
	Other     Category = "Other"
)

// Categories is the closed category set in board order.
var Categories = []Category{Weapons, Drugs, Materials, Other}

// DefaultCategory receives items deposited without a category marker.
const DefaultCategory = Other

// ParseCategory accepts a category name in any case, the "Others" spelling,
// or a single-letter code (W, D, M, O).
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "w", "weapon", "weapons":
		return Weapons, nil
	case "d", "drug", "drugs":
		return Drugs, nil
	case "m", "material", "materials":
		return Materials, nil
	case "o", "other", "others":
		return Other, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}
