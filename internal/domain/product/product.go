// Package product models the catalog: products, their master and option
// variants, option types, properties and prototypes.
package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/validation"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrVariantNotFound is returned when a requested variant does not exist.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrPrototypeNotFound is returned when a requested prototype does not exist.
	ErrPrototypeNotFound = errors.New("prototype not found")
)

// MsgAttachedToLineItems is the record-level error reported when archiving a
// product whose master variant is still referenced by line items.
const MsgAttachedToLineItems = "cannot be deleted because it is attached to line items"

// Status is the lifecycle state of a product.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Product is a catalog item. It always owns a master variant that stands for
// the product itself, plus one variant per option value combination.
type Product struct {
	ID            string
	Name          string
	Description   string
	Slug          string
	Status        Status
	AvailableOn   *time.Time
	DiscontinueOn *time.Time
	DeletedAt     *time.Time
	Master        Variant
	Variants      []Variant
	OptionTypes   []OptionType
	Properties    []ProductProperty
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Variant is a purchasable combination of option values.
type Variant struct {
	ID           string
	ProductID    string
	SKU          string
	IsMaster     bool
	Price        decimal.Decimal
	OptionValues []OptionValue
	DeletedAt    *time.Time
}

// Deleted reports whether the variant was archived along with its product.
func (v *Variant) Deleted() bool {
	return v.DeletedAt != nil
}

// OptionType is a dimension a product varies along, such as size or color.
type OptionType struct {
	ID           string
	Name         string
	Presentation string
	Values       []OptionValue
}

// OptionValue is one choice of an option type.
type OptionValue struct {
	ID           string
	OptionTypeID string
	Name         string
	Presentation string
}

// Property is a named product attribute, such as material.
type Property struct {
	ID           string
	Name         string
	Presentation string
}

// ProductProperty is the value a product has for a property.
type ProductProperty struct {
	Name         string
	Presentation string
	Value        string
}

// Prototype is a template of properties and option types applied when a
// product is created.
type Prototype struct {
	ID          string
	Name        string
	Properties  []Property
	OptionTypes []OptionType
}

// New returns an active product with its master variant initialized.
func New(name string, price decimal.Decimal, sku string) *Product {
	id := uuid.New().String()
	return &Product{
		ID:     id,
		Name:   name,
		Status: StatusActive,
		Master: Variant{
			ID:        uuid.New().String(),
			ProductID: id,
			SKU:       sku,
			IsMaster:  true,
			Price:     price,
		},
	}
}

// Price returns the master variant price.
func (p *Product) Price() decimal.Decimal {
	return p.Master.Price
}

// SKU returns the master variant SKU.
func (p *Product) SKU() string {
	return p.Master.SKU
}

// Persisted reports whether the product has been stored.
func (p *Product) Persisted() bool {
	return !p.CreatedAt.IsZero()
}

// Archived reports whether the product was soft deleted.
func (p *Product) Archived() bool {
	return p.Status == StatusArchived
}

// VariantsIncludingMaster returns the master followed by the option variants.
func (p *Product) VariantsIncludingMaster() []Variant {
	out := make([]Variant, 0, len(p.Variants)+1)
	out = append(out, p.Master)
	return append(out, p.Variants...)
}

// SetProperty sets the value of the named property, adding it when missing.
// An empty presentation defaults to the name.
func (p *Product) SetProperty(name, value, presentation string) {
	if presentation == "" {
		presentation = name
	}
	for i := range p.Properties {
		if p.Properties[i].Name == name {
			p.Properties[i].Value = value
			p.Properties[i].Presentation = presentation
			return
		}
	}
	p.Properties = append(p.Properties, ProductProperty{
		Name:         name,
		Presentation: presentation,
		Value:        value,
	})
}

// Property returns the named product property.
func (p *Product) Property(name string) (ProductProperty, bool) {
	for _, pp := range p.Properties {
		if pp.Name == name {
			return pp, true
		}
	}
	return ProductProperty{}, false
}

// ApplyPrototype copies the prototype's properties (with empty values) and
// option types onto the product. Existing properties keep their values.
func (p *Product) ApplyPrototype(proto *Prototype) {
	for _, prop := range proto.Properties {
		if _, ok := p.Property(prop.Name); ok {
			continue
		}
		p.SetProperty(prop.Name, "", prop.Presentation)
	}
	for _, ot := range proto.OptionTypes {
		p.addOptionType(ot)
	}
}

func (p *Product) addOptionType(ot OptionType) {
	for _, existing := range p.OptionTypes {
		if existing.ID == ot.ID {
			return
		}
	}
	p.OptionTypes = append(p.OptionTypes, ot)
}

// Available reports whether the product can be bought at now: it is live,
// its available_on date has passed and it is not discontinued.
func (p *Product) Available(now time.Time) bool {
	if p.Archived() || p.DeletedAt != nil {
		return false
	}
	if p.AvailableOn == nil || p.AvailableOn.After(now) {
		return false
	}
	return !p.Discontinued(now)
}

// Discontinue marks the product as discontinued from now on.
func (p *Product) Discontinue(now time.Time) {
	p.DiscontinueOn = &now
}

// Discontinued reports whether the product's discontinue date has passed.
func (p *Product) Discontinued(now time.Time) bool {
	return p.DiscontinueOn != nil && !p.DiscontinueOn.After(now)
}

// Archive soft deletes the product and all its variants and renames the
// slug so it can be reused by a new product.
func (p *Product) Archive(now time.Time) {
	p.Status = StatusArchived
	p.DeletedAt = &now
	p.Master.DeletedAt = &now
	for i := range p.Variants {
		p.Variants[i].DeletedAt = &now
	}
	p.Slug = ArchivedSlug(p.Slug, p.ID)
}

// Validate checks the product's own fields. Uniqueness of slug and SKU is
// checked by the Service against the repository.
func (p *Product) Validate() validation.Errors {
	errs := validation.Errors{}
	if p.Name == "" {
		errs.Add("name", "can't be blank")
	}
	if p.Master.Price.IsNegative() {
		errs.Add("price", "must be greater than or equal to 0")
	}
	if p.Slug == "" {
		errs.Add("slug", "can't be blank")
	} else if len(p.Slug) > MaxSlugLength {
		errs.Add("slug", "is too long")
	}
	return errs
}

// Filter narrows product listings.
type Filter struct {
	IncludeArchived bool
}

// Repository defines persistence operations for the product catalog.
type Repository interface {
	List(ctx context.Context, f Filter) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	// SlugTaken reports whether another product uses slug.
	SlugTaken(ctx context.Context, slug, exceptProductID string) (bool, error)
	// SKUTaken reports whether a live variant of another product uses sku.
	SKUTaken(ctx context.Context, sku, exceptProductID string) (bool, error)
	// HasLineItems reports whether any line item references the product's
	// master variant.
	HasLineItems(ctx context.Context, productID string) (bool, error)
	// LockMaster runs fn while holding an exclusive lock on the product's
	// master variant. Repository calls made with fn's context join the lock.
	LockMaster(ctx context.Context, productID string, fn func(ctx context.Context) error) error
}

// VariantRepository provides variant lookups for order building.
type VariantRepository interface {
	// GetVariant returns the variant. When ctx carries a transaction the
	// variant stays share locked until it ends, so LockMaster waits for it.
	GetVariant(ctx context.Context, id string) (*Variant, error)
}

// OptionRepository provides option types and prototypes.
type OptionRepository interface {
	GetOptionTypes(ctx context.Context, ids []string) ([]OptionType, error)
	GetPrototype(ctx context.Context, id string) (*Prototype, error)
}
