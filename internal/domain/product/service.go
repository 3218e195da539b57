package product

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/tagging"
	"github.com/xenking/storefront/internal/domain/validation"
)

// TaggableType is the taggable_type products are tagged under.
const TaggableType = "product"

// maxSlugAttempts bounds numbered fallbacks after the name and name-sku
// candidates are taken.
const maxSlugAttempts = 20

// OptionChoice selects values of one option type for variant generation.
type OptionChoice struct {
	OptionTypeID string
	ValueIDs     []string
}

// CreateRequest holds the input for creating a product.
type CreateRequest struct {
	Name        string
	Description string
	Price       decimal.Decimal
	SKU         string
	// Slug overrides the slug derived from the name.
	Slug         string
	AvailableOn  *time.Time
	PrototypeID  string
	OptionValues []OptionChoice
	Properties   []ProductProperty
}

// Service encapsulates catalog business logic.
type Service struct {
	products Repository
	options  OptionRepository
	tags     tagging.Repository
	now      func() time.Time
}

// NewService creates a product Service.
func NewService(products Repository, options OptionRepository, tags tagging.Repository) *Service {
	return &Service{
		products: products,
		options:  options,
		tags:     tags,
		now:      time.Now,
	}
}

// List returns live products, or all products when f.IncludeArchived is set.
func (s *Service) List(ctx context.Context, f Filter) ([]Product, error) {
	return s.products.List(ctx, f)
}

// Get returns a product by id.
func (s *Service) Get(ctx context.Context, id string) (*Product, error) {
	return s.products.GetByID(ctx, id)
}

// Create builds a product with its master variant, applies the prototype,
// generates option variants, picks a unique slug and persists it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Product, error) {
	p := New(req.Name, req.Price, req.SKU)
	p.Description = req.Description
	p.AvailableOn = req.AvailableOn

	if req.PrototypeID != "" {
		proto, err := s.options.GetPrototype(ctx, req.PrototypeID)
		if err != nil {
			return nil, errors.Wrap(err, "get prototype")
		}
		p.ApplyPrototype(proto)
	}
	for _, prop := range req.Properties {
		p.SetProperty(prop.Name, prop.Value, prop.Presentation)
	}

	if len(req.OptionValues) > 0 {
		selections, err := s.resolveOptions(ctx, req.OptionValues)
		if err != nil {
			return nil, err
		}
		p.GenerateVariants(selections)
	}

	errs := validation.Errors{}
	if req.Slug != "" {
		p.Slug = Slugify(req.Slug)
		if err := s.checkSlug(ctx, p, errs); err != nil {
			return nil, err
		}
	} else if p.Name != "" {
		slug, err := s.uniqueSlug(ctx, p)
		if err != nil {
			return nil, err
		}
		p.Slug = slug
	}
	for field, msgs := range p.Validate() {
		for _, m := range msgs {
			errs.Add(field, m)
		}
	}
	if err := s.checkSKU(ctx, p, errs); err != nil {
		return nil, err
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	if err := s.products.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create product")
	}
	return p, nil
}

func (s *Service) resolveOptions(ctx context.Context, choices []OptionChoice) ([]OptionSelection, error) {
	ids := make([]string, len(choices))
	for i, c := range choices {
		ids[i] = c.OptionTypeID
	}
	types, err := s.options.GetOptionTypes(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get option types")
	}
	byID := make(map[string]OptionType, len(types))
	for _, t := range types {
		byID[t.ID] = t
	}

	selections := make([]OptionSelection, 0, len(choices))
	for _, c := range choices {
		t, ok := byID[c.OptionTypeID]
		if !ok {
			return nil, validation.Errors{"option_values": {"references an unknown option type"}}
		}
		sel := OptionSelection{Type: t}
		// Values keep the option type's order, not the request's.
		for _, v := range t.Values {
			if slices.Contains(c.ValueIDs, v.ID) {
				sel.Values = append(sel.Values, v)
			}
		}
		selections = append(selections, sel)
	}
	return selections, nil
}

func (s *Service) uniqueSlug(ctx context.Context, p *Product) (string, error) {
	candidates := SlugCandidates(p.Name, p.SKU())
	for _, c := range candidates {
		taken, err := s.products.SlugTaken(ctx, c, p.ID)
		if err != nil {
			return "", errors.Wrap(err, "check slug")
		}
		if !taken {
			return c, nil
		}
	}
	last := candidates[len(candidates)-1]
	for i := 2; i <= maxSlugAttempts; i++ {
		suffix := "-" + strconv.Itoa(i)
		c := truncate(last, MaxSlugLength-len(suffix)) + suffix
		taken, err := s.products.SlugTaken(ctx, c, p.ID)
		if err != nil {
			return "", errors.Wrap(err, "check slug")
		}
		if !taken {
			return c, nil
		}
	}
	return "", validation.Errors{"slug": {"has already been taken"}}
}

func (s *Service) checkSlug(ctx context.Context, p *Product, errs validation.Errors) error {
	if p.Slug == "" {
		return nil
	}
	taken, err := s.products.SlugTaken(ctx, p.Slug, p.ID)
	if err != nil {
		return errors.Wrap(err, "check slug")
	}
	if taken {
		errs.Add("slug", "has already been taken")
	}
	return nil
}

func (s *Service) checkSKU(ctx context.Context, p *Product, errs validation.Errors) error {
	seen := make(map[string]struct{})
	for _, v := range p.VariantsIncludingMaster() {
		if v.SKU == "" {
			continue
		}
		if _, dup := seen[v.SKU]; dup {
			errs.Add("sku", "has already been taken")
			return nil
		}
		seen[v.SKU] = struct{}{}

		taken, err := s.products.SKUTaken(ctx, v.SKU, p.ID)
		if err != nil {
			return errors.Wrap(err, "check sku")
		}
		if taken {
			errs.Add("sku", "has already been taken")
			return nil
		}
	}
	return nil
}

// UpdateSlug normalizes slug and stores it if no other product uses it.
func (s *Service) UpdateSlug(ctx context.Context, id, slug string) (*Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Slug = Slugify(slug)

	errs := p.Validate()
	if err := s.checkSlug(ctx, p, errs); err != nil {
		return nil, err
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	if err := s.products.Update(ctx, p); err != nil {
		return nil, errors.Wrap(err, "update product")
	}
	return p, nil
}

// Archive soft deletes a product. It fails with a base validation error
// while any line item references the product's master variant, leaving the
// product untouched. The check and the write run under the master variant
// lock.
func (s *Service) Archive(ctx context.Context, id string) (*Product, error) {
	var p *Product
	err := s.products.LockMaster(ctx, id, func(ctx context.Context) error {
		var err error
		if p, err = s.products.GetByID(ctx, id); err != nil {
			return err
		}
		if p.Archived() {
			return nil
		}

		attached, err := s.products.HasLineItems(ctx, p.ID)
		if err != nil {
			return errors.Wrap(err, "check line items")
		}
		if attached {
			return validation.BaseError(MsgAttachedToLineItems)
		}

		p.Archive(s.now())
		if err := s.products.Update(ctx, p); err != nil {
			return errors.Wrap(err, "archive product")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Discontinue stops the product from being available from now on.
func (s *Service) Discontinue(ctx context.Context, id string) (*Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Discontinue(s.now())
	if err := s.products.Update(ctx, p); err != nil {
		return nil, errors.Wrap(err, "discontinue product")
	}
	return p, nil
}

// SetProperty sets a property value on a stored product.
func (s *Service) SetProperty(ctx context.Context, id, name, value, presentation string) (*Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.SetProperty(name, value, presentation)
	if err := s.products.Update(ctx, p); err != nil {
		return nil, errors.Wrap(err, "update product")
	}
	return p, nil
}

// Tag links names to the product in tagContext (tagging.DefaultContext when
// empty) and returns all the product's tags in that context.
func (s *Service) Tag(ctx context.Context, id, tagContext string, names []string, tagger tagging.Tagger) ([]tagging.Tag, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tagContext == "" {
		tagContext = tagging.DefaultContext
	}
	names = tagging.Normalize(names)
	if len(names) == 0 {
		return nil, validation.Errors{"tags": {"can't be blank"}}
	}

	target := tagging.Target{ID: p.ID, Type: TaggableType}
	if _, err := s.tags.Tag(ctx, target, tagContext, names, tagger); err != nil {
		return nil, errors.Wrap(err, "tag product")
	}
	tags, err := s.tags.List(ctx, target, tagContext)
	if err != nil {
		return nil, errors.Wrap(err, "list tags")
	}
	return tags, nil
}
