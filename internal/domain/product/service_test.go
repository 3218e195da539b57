package product

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/tagging"
	"github.com/xenking/storefront/internal/domain/validation"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID        map[string]*Product
	lineItems   map[string]bool
	createErr   error
	updateCalls int

	locked   bool
	unlocked []string // archive steps run without the master lock
}

func newMockProductRepo() *mockProductRepo {
	return &mockProductRepo{
		byID:      make(map[string]*Product),
		lineItems: make(map[string]bool),
	}
}

func (m *mockProductRepo) List(_ context.Context, f Filter) ([]Product, error) {
	var out []Product
	for _, p := range m.byID {
		if p.Archived() && !f.IncludeArchived {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProductRepo) Create(_ context.Context, p *Product) error {
	if m.createErr != nil {
		return m.createErr
	}
	p.CreatedAt = time.Now()
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *mockProductRepo) Update(_ context.Context, p *Product) error {
	if p.Archived() && !m.locked {
		m.unlocked = append(m.unlocked, "Update")
	}
	m.updateCalls++
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *mockProductRepo) SlugTaken(_ context.Context, slug, except string) (bool, error) {
	for _, p := range m.byID {
		if p.ID != except && p.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockProductRepo) SKUTaken(_ context.Context, sku, except string) (bool, error) {
	for _, p := range m.byID {
		if p.ID == except || p.Archived() {
			continue
		}
		for _, v := range p.VariantsIncludingMaster() {
			if v.SKU == sku {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *mockProductRepo) HasLineItems(_ context.Context, id string) (bool, error) {
	if !m.locked {
		m.unlocked = append(m.unlocked, "HasLineItems")
	}
	return m.lineItems[id], nil
}

func (m *mockProductRepo) LockMaster(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	m.locked = true
	defer func() { m.locked = false }()
	return fn(ctx)
}

type mockOptionRepo struct {
	types      map[string]OptionType
	prototypes map[string]*Prototype
}

func (m *mockOptionRepo) GetOptionTypes(_ context.Context, ids []string) ([]OptionType, error) {
	var out []OptionType
	for _, id := range ids {
		if t, ok := m.types[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockOptionRepo) GetPrototype(_ context.Context, id string) (*Prototype, error) {
	p, ok := m.prototypes[id]
	if !ok {
		return nil, ErrPrototypeNotFound
	}
	return p, nil
}

type mockTagRepo struct {
	tags map[tagging.Target][]tagging.Tag
}

func (m *mockTagRepo) Tag(_ context.Context, target tagging.Target, _ string, names []string, _ tagging.Tagger) ([]tagging.Tag, error) {
	if m.tags == nil {
		m.tags = make(map[tagging.Target][]tagging.Tag)
	}
	var out []tagging.Tag
	for _, n := range names {
		tag := tagging.Tag{ID: n, Name: n}
		m.tags[target] = append(m.tags[target], tag)
		out = append(out, tag)
	}
	return out, nil
}

func (m *mockTagRepo) List(_ context.Context, target tagging.Target, _ string) ([]tagging.Tag, error) {
	return m.tags[target], nil
}

// --- Helpers ---

func newTestService() (*Service, *mockProductRepo, *mockOptionRepo) {
	repo := newMockProductRepo()
	options := &mockOptionRepo{
		types: map[string]OptionType{
			"size":  optionType("size", "size", "s", "m", "l"),
			"color": optionType("color", "color", "red", "green"),
		},
		prototypes: map[string]*Prototype{
			"shirt": {
				ID:          "shirt",
				Name:        "Shirt",
				Properties:  []Property{{Name: "material", Presentation: "Material"}},
				OptionTypes: []OptionType{optionType("size", "size", "s", "m", "l")},
			},
		},
	}
	svc := NewService(repo, options, &mockTagRepo{})
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	return svc, repo, options
}

// --- Tests ---

func TestService_Create_SlugFallsBackToNameSKU(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateRequest{Name: "test", Price: decimal.NewFromInt(10), SKU: "123"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, CreateRequest{Name: "test", Price: decimal.NewFromInt(10), SKU: "456"})
	require.NoError(t, err)

	assert.Equal(t, "test", first.Slug)
	assert.Equal(t, "test-456", second.Slug)
}

func TestService_Create_NumberedSlugWhenAllCandidatesTaken(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Name: "test", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)
	p, err := svc.Create(ctx, CreateRequest{Name: "test", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)

	assert.Equal(t, "test-2", p.Slug)
}

func TestService_Create_ExplicitSlugIsNormalizedAndUnique(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateRequest{Name: "Joe", Slug: "hey//joe", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "hey-joe", p.Slug)

	_, err = svc.Create(ctx, CreateRequest{Name: "Other", Slug: "hey-joe", Price: decimal.NewFromInt(1)})
	verr, ok := validation.From(err)
	require.True(t, ok, "expected validation error, got %v", err)
	assert.True(t, verr.Has("slug"))
}

func TestService_Create_DuplicateSKU(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Name: "a", SKU: "SKU-1", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateRequest{Name: "b", SKU: "SKU-1", Price: decimal.NewFromInt(1)})
	verr, ok := validation.From(err)
	require.True(t, ok)
	assert.Equal(t, []string{"has already been taken"}, verr["sku"])
}

func TestService_Create_Invalid(t *testing.T) {
	svc, repo, _ := newTestService()

	_, err := svc.Create(context.Background(), CreateRequest{Price: decimal.NewFromInt(-5)})
	verr, ok := validation.From(err)
	require.True(t, ok)
	assert.True(t, verr.Has("name"))
	assert.True(t, verr.Has("price"))
	assert.Empty(t, repo.byID, "nothing persisted")
}

func TestService_Create_FromPrototypeWithOptionValues(t *testing.T) {
	svc, _, _ := newTestService()

	p, err := svc.Create(context.Background(), CreateRequest{
		Name:        "Tee",
		Price:       decimal.NewFromInt(15),
		PrototypeID: "shirt",
		OptionValues: []OptionChoice{
			// Request order of values is irrelevant; the option type order wins.
			{OptionTypeID: "size", ValueIDs: []string{"size-l", "size-s"}},
			{OptionTypeID: "color", ValueIDs: []string{"color-red", "color-green"}},
		},
	})
	require.NoError(t, err)

	assert.Len(t, p.Variants, 4)
	assert.Len(t, p.OptionTypes, 2)
	assert.Equal(t, "size-s", p.Variants[0].OptionValues[0].ID)
	_, ok := p.Property("material")
	assert.True(t, ok)
}

func TestService_Create_UnknownPrototype(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Create(context.Background(), CreateRequest{Name: "x", Price: decimal.NewFromInt(1), PrototypeID: "nope"})
	require.ErrorIs(t, err, ErrPrototypeNotFound)
}

func TestService_Create_RepoError(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.createErr = errors.New("db down")

	_, err := svc.Create(context.Background(), CreateRequest{Name: "x", Price: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestService_Archive(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateRequest{Name: "mug", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)

	archived, err := svc.Archive(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, archived.Archived())
	assert.NotEqual(t, "mug", archived.Slug)

	// The original slug is free again.
	again, err := svc.Create(ctx, CreateRequest{Name: "mug", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "mug", again.Slug)

	live, err := svc.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, live, 1)

	// Archiving twice is a no-op.
	calls := repo.updateCalls
	_, err = svc.Archive(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, calls, repo.updateCalls)
	assert.Empty(t, repo.unlocked, "line item check and write must hold the master lock")
}

func TestService_Archive_BlockedByLineItems(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateRequest{Name: "mug", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)
	repo.lineItems[p.ID] = true

	_, err = svc.Archive(ctx, p.ID)
	verr, ok := validation.From(err)
	require.True(t, ok)
	assert.Equal(t, []string{MsgAttachedToLineItems}, verr[validation.Base])

	stored, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, stored.Archived())
	assert.Equal(t, "mug", stored.Slug)
	assert.Empty(t, repo.unlocked)
}

func TestService_Archive_NotFound(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Archive(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_Discontinue(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateRequest{Name: "mug", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)

	got, err := svc.Discontinue(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Discontinued(svc.now()))
}

func TestService_UpdateSlug(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateRequest{Name: "a", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)
	b, err := svc.Create(ctx, CreateRequest{Name: "b", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)

	got, err := svc.UpdateSlug(ctx, a.ID, "Fancy/Slug")
	require.NoError(t, err)
	assert.Equal(t, "fancy-slug", got.Slug)

	_, err = svc.UpdateSlug(ctx, b.ID, "fancy-slug")
	verr, ok := validation.From(err)
	require.True(t, ok)
	assert.True(t, verr.Has("slug"))
}

func TestService_SetProperty(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateRequest{Name: "mug", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)

	got, err := svc.SetProperty(ctx, p.ID, "volume", "350ml", "")
	require.NoError(t, err)
	prop, ok := got.Property("volume")
	require.True(t, ok)
	assert.Equal(t, "350ml", prop.Value)
}

func TestService_Tag(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateRequest{Name: "mug", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)

	tags, err := svc.Tag(ctx, p.ID, "", []string{" kitchen ", "gift", "kitchen"}, tagging.Tagger{})
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "kitchen", tags[0].Name)

	_, err = svc.Tag(ctx, p.ID, "", []string{" "}, tagging.Tagger{})
	_, ok := validation.From(err)
	assert.True(t, ok)
}
