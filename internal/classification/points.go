package classification

import (
	"io"
	"maps"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/keo-sports/stage-engine/internal/model"
)

// ScaleTable maps each segment category to its default points-by-position
// scale. Index 0 holds the points for 1st place. A ScaleTable is immutable:
// accessors return copies.
type ScaleTable struct {
	scales map[model.SegmentCategory][]int
}

// DefaultScaleTable returns the stock category defaults.
func DefaultScaleTable() ScaleTable {
	return ScaleTable{scales: map[model.SegmentCategory][]int{
		model.CategoryHC:   {20, 15, 12, 10},
		model.CategoryCat1: {15, 12, 10, 8},
		model.CategoryCat2: {10, 8, 6, 4},
		model.CategoryCat3: {6, 4, 2, 1},
		model.CategoryCat4: {5, 3, 2, 1},
	}}
}

// NewScaleTable builds a table from explicit scales, validating categories
// and rejecting negative points.
func NewScaleTable(scales map[model.SegmentCategory][]int) (ScaleTable, error) {
	t := ScaleTable{scales: make(map[model.SegmentCategory][]int, len(scales))}
	for cat, scale := range scales {
		if !cat.Valid() {
			return ScaleTable{}, eris.Errorf("classification: unknown segment category %q", cat)
		}
		if err := validateScale(scale); err != nil {
			return ScaleTable{}, eris.Wrapf(err, "classification: category %s", cat)
		}
		t.scales[cat] = slices.Clone(scale)
	}
	return t, nil
}

// LoadScaleTable reads a YAML mapping of category to points scale and
// merges it over the defaults:
//
//	hc: [25, 20, 15, 10, 5]
//	cat4: [3, 2, 1]
func LoadScaleTable(r io.Reader) (ScaleTable, error) {
	var raw map[string][]int
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return ScaleTable{}, eris.Wrap(err, "classification: decode scale table")
	}

	merged := DefaultScaleTable().scales
	for name, scale := range raw {
		merged[model.SegmentCategory(name)] = scale
	}
	return NewScaleTable(merged)
}

// Default returns a copy of the category's default scale, nil if unknown.
func (t ScaleTable) Default(cat model.SegmentCategory) []int {
	return slices.Clone(t.scales[cat])
}

// Categories returns the configured categories in difficulty order.
func (t ScaleTable) Categories() []model.SegmentCategory {
	cats := slices.Collect(maps.Keys(t.scales))
	slices.SortFunc(cats, func(a, b model.SegmentCategory) int {
		return slices.Index(model.Categories, a) - slices.Index(model.Categories, b)
	})
	return cats
}

// Resolve returns the scale used to score a segment: the scale authored on
// the segment when present, the category default otherwise.
func (t ScaleTable) Resolve(seg model.Segment) []int {
	if len(seg.PointsScale) > 0 {
		return slices.Clone(seg.PointsScale)
	}
	return t.Default(seg.Category)
}

// PointsForPosition returns the points for a 1-based finish position, or 0
// when the position falls outside the scale.
func PointsForPosition(position int, scale []int) int {
	if position < 1 || position > len(scale) {
		return 0
	}
	return scale[position-1]
}

func validateScale(scale []int) error {
	for i, p := range scale {
		if p < 0 {
			return eris.Errorf("negative points %d at position %d", p, i+1)
		}
	}
	return nil
}
