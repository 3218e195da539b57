package product

import (
	"strings"

	"github.com/google/uuid"
)

// OptionSelection is an option type together with the values of it a
// product is offered in, in order.
type OptionSelection struct {
	Type   OptionType
	Values []OptionValue
}

// GenerateVariants replaces the product's option variants with one variant
// per element of the cartesian product of the selected values. The master is
// left untouched. Selections without values are ignored.
func (p *Product) GenerateVariants(selections []OptionSelection) {
	var used []OptionSelection
	for _, s := range selections {
		p.addOptionType(s.Type)
		if len(s.Values) > 0 {
			used = append(used, s)
		}
	}
	if len(used) == 0 {
		p.Variants = nil
		return
	}

	combos := cartesian(used)
	p.Variants = make([]Variant, 0, len(combos))
	for _, values := range combos {
		p.Variants = append(p.Variants, Variant{
			ID:           uuid.New().String(),
			ProductID:    p.ID,
			SKU:          variantSKU(p.Master.SKU, values),
			Price:        p.Master.Price,
			OptionValues: values,
		})
	}
}

// cartesian expands selections into every combination, varying the last
// selection fastest.
func cartesian(selections []OptionSelection) [][]OptionValue {
	combos := [][]OptionValue{{}}
	for _, s := range selections {
		next := make([][]OptionValue, 0, len(combos)*len(s.Values))
		for _, prefix := range combos {
			for _, v := range s.Values {
				combo := make([]OptionValue, len(prefix), len(prefix)+1)
				copy(combo, prefix)
				next = append(next, append(combo, v))
			}
		}
		combos = next
	}
	return combos
}

func variantSKU(masterSKU string, values []OptionValue) string {
	if masterSKU == "" {
		return ""
	}
	parts := make([]string, 0, len(values)+1)
	parts = append(parts, masterSKU)
	for _, v := range values {
		parts = append(parts, Slugify(v.Name))
	}
	return strings.Join(parts, "-")
}

// VariantsWithOptionValues returns the live variants that carry at least one
// option value.
func (p *Product) VariantsWithOptionValues() []Variant {
	var out []Variant
	for _, v := range p.Variants {
		if len(v.OptionValues) > 0 && !v.Deleted() {
			out = append(out, v)
		}
	}
	return out
}

// OptionsText describes the variant's option values, e.g. "Size: S, Color: Red".
func (v *Variant) OptionsText(types []OptionType) string {
	names := make(map[string]string, len(types))
	for _, t := range types {
		names[t.ID] = t.Presentation
	}
	parts := make([]string, 0, len(v.OptionValues))
	for _, ov := range v.OptionValues {
		label := names[ov.OptionTypeID]
		if label == "" {
			parts = append(parts, ov.Presentation)
			continue
		}
		parts = append(parts, label+": "+ov.Presentation)
	}
	return strings.Join(parts, ", ")
}
