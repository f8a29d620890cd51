package model

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kilianp07/griddispatch/core/errs"
)

// Category classifies a microgrid component.
type Category int

const (
	CategoryUnspecified Category = iota
	CategoryBattery
	CategoryEVCharger
	CategoryMeter
	CategoryInverter
	CategoryCHP
	CategoryPrecharger
)

var categoryNames = map[Category]string{
	CategoryBattery:    "battery",
	CategoryEVCharger:  "ev_charger",
	CategoryMeter:      "meter",
	CategoryInverter:   "inverter",
	CategoryCHP:        "chp",
	CategoryPrecharger: "precharger",
}

// String returns the wire name of the category.
func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return "unspecified"
}

// ParseCategory resolves a wire name back to a Category.
func ParseCategory(s string) (Category, error) {
	for c, n := range categoryNames {
		if n == s {
			return c, nil
		}
	}
	return CategoryUnspecified, errs.InvalidArgf("unknown component category %q", s)
}

// ComponentSelector identifies the components a dispatch targets. It is a
// closed sum: exactly ComponentIDs or ComponentCategories, never both, never
// empty. Consumers switch exhaustively on the concrete type.
type ComponentSelector interface {
	isSelector()
	// Matches reports whether the selector names the given target.
	Matches(t ComponentTarget) bool
	// Clone returns an independent copy.
	Clone() ComponentSelector
}

// ComponentIDs selects components by their numeric identifiers.
type ComponentIDs []uint64

// ComponentCategories selects every component of the listed categories.
type ComponentCategories []Category

func (ComponentIDs) isSelector()        {}
func (ComponentCategories) isSelector() {}

// Matches reports whether the target is an id named by the selector.
func (s ComponentIDs) Matches(t ComponentTarget) bool {
	id, ok := t.(TargetComponentID)
	if !ok {
		return false
	}
	for _, v := range s {
		if v == uint64(id) {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the id set.
func (s ComponentIDs) Clone() ComponentSelector {
	out := make(ComponentIDs, len(s))
	copy(out, s)
	return out
}

// Matches reports whether the target is a category named by the selector.
func (s ComponentCategories) Matches(t ComponentTarget) bool {
	cat, ok := t.(TargetCategory)
	if !ok {
		return false
	}
	for _, v := range s {
		if v == Category(cat) {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the category set.
func (s ComponentCategories) Clone() ComponentSelector {
	out := make(ComponentCategories, len(s))
	copy(out, s)
	return out
}

// ComponentTarget is one side of a selector match: a concrete component id
// or a category. Query filters carry targets; dispatch selectors answer them.
type ComponentTarget interface{ isTarget() }

// TargetComponentID targets a single component by id.
type TargetComponentID uint64

// TargetCategory targets every component of one category.
type TargetCategory Category

func (TargetComponentID) isTarget() {}
func (TargetCategory) isTarget()    {}

// ValidateSelector rejects nil, empty and malformed selectors.
func ValidateSelector(s ComponentSelector) error {
	switch v := s.(type) {
	case ComponentIDs:
		if len(v) == 0 {
			return errs.InvalidArgf("selector: component id set is empty")
		}
	case ComponentCategories:
		if len(v) == 0 {
			return errs.InvalidArgf("selector: category set is empty")
		}
		for _, c := range v {
			if _, ok := categoryNames[c]; !ok {
				return errs.InvalidArgf("selector: unknown category %d", c)
			}
		}
	case nil:
		return errs.InvalidArgf("selector: missing")
	default:
		return errs.InvalidArgf("selector: unsupported variant %T", s)
	}
	return nil
}

// selectorEnvelope is the stored/wire form of the selector sum.
type selectorEnvelope struct {
	Kind       string   `json:"kind"`
	IDs        []uint64 `json:"ids,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// MarshalSelector encodes the selector sum as a tagged JSON envelope.
func MarshalSelector(s ComponentSelector) ([]byte, error) {
	switch v := s.(type) {
	case ComponentIDs:
		ids := make([]uint64, len(v))
		copy(ids, v)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return json.Marshal(selectorEnvelope{Kind: "ids", IDs: ids})
	case ComponentCategories:
		names := make([]string, len(v))
		for i, c := range v {
			names[i] = c.String()
		}
		sort.Strings(names)
		return json.Marshal(selectorEnvelope{Kind: "categories", Categories: names})
	case nil:
		return json.Marshal(nil)
	default:
		return nil, fmt.Errorf("marshal selector: unsupported variant %T", s)
	}
}

// UnmarshalSelector decodes a tagged JSON envelope back into the sum.
func UnmarshalSelector(b []byte) (ComponentSelector, error) {
	if string(b) == "null" {
		return nil, nil
	}
	var env selectorEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("unmarshal selector: %w", err)
	}
	switch env.Kind {
	case "ids":
		return ComponentIDs(env.IDs), nil
	case "categories":
		cats := make(ComponentCategories, 0, len(env.Categories))
		for _, n := range env.Categories {
			c, err := ParseCategory(n)
			if err != nil {
				return nil, err
			}
			cats = append(cats, c)
		}
		return cats, nil
	default:
		return nil, fmt.Errorf("unmarshal selector: unknown kind %q", env.Kind)
	}
}
