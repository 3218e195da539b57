package product

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func optionType(id, name string, values ...string) OptionType {
	t := OptionType{ID: id, Name: name, Presentation: strings.ToUpper(name[:1]) + name[1:]}
	for _, v := range values {
		t.Values = append(t.Values, OptionValue{
			ID:           id + "-" + v,
			OptionTypeID: id,
			Name:         v,
			Presentation: v,
		})
	}
	return t
}

func selectAll(types ...OptionType) []OptionSelection {
	out := make([]OptionSelection, len(types))
	for i, t := range types {
		out[i] = OptionSelection{Type: t, Values: t.Values}
	}
	return out
}

func TestNew_HasMasterVariant(t *testing.T) {
	p := New("Shirt", decimal.NewFromInt(20), "SH-1")

	assert.NotEmpty(t, p.ID)
	assert.True(t, p.Master.IsMaster)
	assert.Equal(t, p.ID, p.Master.ProductID)
	assert.Equal(t, "SH-1", p.SKU())
	assert.True(t, p.Price().Equal(decimal.NewFromInt(20)))
	assert.Equal(t, StatusActive, p.Status)
	assert.Empty(t, p.Variants)
	assert.False(t, p.Persisted())
}

func TestGenerateVariants_CartesianProduct(t *testing.T) {
	tests := []struct {
		name  string
		types []OptionType
		want  int
	}{
		{
			name:  "single type",
			types: []OptionType{optionType("size", "size", "s", "m")},
			want:  2,
		},
		{
			name: "three by three by three",
			types: []OptionType{
				optionType("size", "size", "s", "m", "l"),
				optionType("color", "color", "red", "green", "blue"),
				optionType("fit", "fit", "slim", "regular", "loose"),
			},
			want: 27,
		},
		{
			name: "two by four",
			types: []OptionType{
				optionType("size", "size", "s", "m"),
				optionType("color", "color", "red", "green", "blue", "black"),
			},
			want: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New("Shirt", decimal.NewFromInt(10), "")
			p.GenerateVariants(selectAll(tt.types...))

			require.Len(t, p.Variants, tt.want)
			assert.Len(t, p.OptionTypes, len(tt.types))

			seen := make(map[string]bool, len(p.Variants))
			for _, v := range p.Variants {
				assert.False(t, v.IsMaster)
				assert.NotEqual(t, p.Master.ID, v.ID)
				assert.Len(t, v.OptionValues, len(tt.types))
				assert.True(t, v.Price.Equal(p.Price()))

				key := fmt.Sprint(v.OptionValues)
				assert.False(t, seen[key], "duplicate combination %s", key)
				seen[key] = true
			}
		})
	}
}

func TestGenerateVariants_Order(t *testing.T) {
	p := New("Shirt", decimal.NewFromInt(10), "SH")
	p.GenerateVariants(selectAll(
		optionType("size", "size", "s", "m"),
		optionType("color", "color", "red", "blue"),
	))

	require.Len(t, p.Variants, 4)
	assert.Equal(t, "SH-s-red", p.Variants[0].SKU)
	assert.Equal(t, "SH-s-blue", p.Variants[1].SKU)
	assert.Equal(t, "SH-m-red", p.Variants[2].SKU)
	assert.Equal(t, "SH-m-blue", p.Variants[3].SKU)
}

func TestGenerateVariants_NoValues(t *testing.T) {
	p := New("Shirt", decimal.NewFromInt(10), "")
	p.GenerateVariants([]OptionSelection{{Type: optionType("size", "size")}})

	assert.Empty(t, p.Variants)
	assert.Len(t, p.OptionTypes, 1)
}

func TestApplyPrototype(t *testing.T) {
	proto := &Prototype{
		Name: "Shirt",
		Properties: []Property{
			{Name: "material", Presentation: "Material"},
			{Name: "fit", Presentation: "Fit"},
		},
		OptionTypes: []OptionType{optionType("size", "size", "s")},
	}
	p := New("Shirt", decimal.NewFromInt(10), "")
	p.SetProperty("material", "cotton", "")

	p.ApplyPrototype(proto)

	require.Len(t, p.Properties, 2)
	material, ok := p.Property("material")
	require.True(t, ok)
	assert.Equal(t, "cotton", material.Value)

	fit, ok := p.Property("fit")
	require.True(t, ok)
	assert.Equal(t, "Fit", fit.Presentation)
	assert.Empty(t, fit.Value)

	require.Len(t, p.OptionTypes, 1)
	assert.Equal(t, "size", p.OptionTypes[0].ID)
}

func TestSetProperty(t *testing.T) {
	p := New("Mug", decimal.NewFromInt(5), "")

	p.SetProperty("color", "red", "")
	prop, ok := p.Property("color")
	require.True(t, ok)
	assert.Equal(t, "color", prop.Presentation)

	p.SetProperty("color", "blue", "Colour")
	require.Len(t, p.Properties, 1)
	prop, _ = p.Property("color")
	assert.Equal(t, "blue", prop.Value)
	assert.Equal(t, "Colour", prop.Presentation)
}

func TestAvailableAndDiscontinued(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	p := New("Mug", decimal.NewFromInt(5), "")
	assert.False(t, p.Available(now), "no available_on")

	p.AvailableOn = &future
	assert.False(t, p.Available(now))

	p.AvailableOn = &past
	assert.True(t, p.Available(now))

	p.Discontinue(now)
	assert.True(t, p.Discontinued(now))
	assert.False(t, p.Available(now))

	p.DiscontinueOn = &future
	assert.False(t, p.Discontinued(now))
	assert.True(t, p.Available(now))
}

func TestArchive(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	p := New("Mug", decimal.NewFromInt(5), "")
	p.Slug = "mug"
	p.AvailableOn = &past
	p.GenerateVariants(selectAll(optionType("size", "size", "s", "m")))

	p.Archive(now)

	assert.True(t, p.Archived())
	assert.False(t, p.Available(now))
	assert.True(t, p.Master.Deleted())
	for _, v := range p.Variants {
		assert.True(t, v.Deleted())
	}
	assert.Empty(t, p.VariantsWithOptionValues())
	assert.NotEqual(t, "mug", p.Slug)
	assert.True(t, strings.HasPrefix(p.Slug, "mug-"))
}

func TestVariantsWithOptionValues(t *testing.T) {
	p := New("Mug", decimal.NewFromInt(5), "")
	p.GenerateVariants(selectAll(optionType("size", "size", "s", "m")))
	p.Variants = append(p.Variants, Variant{ID: "bare"})

	got := p.VariantsWithOptionValues()
	assert.Len(t, got, 2)
}

func TestOptionsText(t *testing.T) {
	size := optionType("size", "size", "S")
	color := optionType("color", "color", "Red")
	v := Variant{OptionValues: []OptionValue{size.Values[0], color.Values[0]}}

	assert.Equal(t, "Size: S, Color: Red", v.OptionsText([]OptionType{size, color}))
}

func TestValidate(t *testing.T) {
	p := New("", decimal.NewFromInt(-1), "")
	errs := p.Validate()

	assert.True(t, errs.Has("name"))
	assert.True(t, errs.Has("price"))
	assert.True(t, errs.Has("slug"))

	p = New("Mug", decimal.NewFromInt(1), "")
	p.Slug = "mug"
	assert.True(t, p.Validate().Empty())
}
