//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/stock"
	"github.com/xenking/storefront/internal/domain/tagging"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/domain/validation"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "shop",
				"POSTGRES_PASSWORD": "shop",
				"POSTGRES_DB":       "shop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = testcontainers.TerminateContainer(c) }()

	host, err := c.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "host: %v\n", err)
		return 1
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "port: %v\n", err)
		return 1
	}

	dsn := fmt.Sprintf("postgres://shop:shop@%s:%s/shop?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pool: %v\n", err)
		return 1
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	return m.Run()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedProduct(t *testing.T, name, sku string) *product.Product {
	t.Helper()
	p := product.New(name, dec("19.99"), sku)
	p.Slug = product.Slugify(name) + "-" + p.ID[:8]
	require.NoError(t, NewProductRepository(testPool).Create(context.Background(), p))
	return p
}

func seedStock(t *testing.T, location, variantID string, count int) {
	t.Helper()
	require.NoError(t, NewStockRepository(testPool).SetCountOnHand(context.Background(), location, variantID, count, false))
}

func countOnHand(t *testing.T, location, variantID string) int {
	t.Helper()
	n, err := NewStockRepository(testPool).CountOnHand(context.Background(), location, variantID)
	require.NoError(t, err)
	return n
}

func TestProductRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	options := NewOptionRepository(testPool)
	size := &product.OptionType{
		ID: "ot-size-rt", Name: "size-rt", Presentation: "Size",
		Values: []product.OptionValue{
			{ID: "ov-s-rt", OptionTypeID: "ot-size-rt", Name: "s", Presentation: "S"},
			{ID: "ov-m-rt", OptionTypeID: "ot-size-rt", Name: "m", Presentation: "M"},
		},
	}
	require.NoError(t, options.SaveOptionType(ctx, size))

	p := product.New("Round Trip Tee", dec("12.50"), "RT-TEE")
	p.Slug = "round-trip-tee"
	p.GenerateVariants([]product.OptionSelection{{Type: *size, Values: size.Values}})
	p.SetProperty("material", "cotton", "Material")

	repo := NewProductRepository(testPool)
	require.NoError(t, repo.Create(ctx, p))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "round-trip-tee", got.Slug)
	assert.True(t, got.Price().Equal(dec("12.50")))
	assert.Equal(t, "RT-TEE", got.SKU())
	require.Len(t, got.Variants, 2)
	require.Len(t, got.Variants[0].OptionValues, 1)
	require.Len(t, got.OptionTypes, 1)
	assert.Len(t, got.OptionTypes[0].Values, 2)
	prop, ok := got.Property("material")
	require.True(t, ok)
	assert.Equal(t, "cotton", prop.Value)

	taken, err := repo.SlugTaken(ctx, "round-trip-tee", "")
	require.NoError(t, err)
	assert.True(t, taken)
	taken, err = repo.SlugTaken(ctx, "round-trip-tee", p.ID)
	require.NoError(t, err)
	assert.False(t, taken)

	taken, err = repo.SKUTaken(ctx, "RT-TEE", "other")
	require.NoError(t, err)
	assert.True(t, taken)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, product.ErrNotFound)
	_, err = repo.GetVariant(ctx, "missing")
	require.ErrorIs(t, err, product.ErrVariantNotFound)
}

func TestProductRepository_ArchivedHiddenFromList(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testPool)
	p := seedProduct(t, "Archived Mug", "ARCH-MUG")

	p.Archive(time.Now())
	require.NoError(t, repo.Update(ctx, p))

	listed, err := repo.List(ctx, product.Filter{})
	require.NoError(t, err)
	for _, lp := range listed {
		assert.NotEqual(t, p.ID, lp.ID)
	}

	all, err := repo.List(ctx, product.Filter{IncludeArchived: true})
	require.NoError(t, err)
	var found bool
	for _, lp := range all {
		found = found || lp.ID == p.ID
	}
	assert.True(t, found)

	v, err := repo.GetVariant(ctx, p.Master.ID)
	require.NoError(t, err)
	assert.True(t, v.Deleted())
}

func TestProductService_ArchiveWaitsForCart(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testPool)
	products := product.NewService(repo, NewOptionRepository(testPool), NewTaggingRepository(testPool))
	orders := NewOrderRepository(testPool)
	p := seedProduct(t, "Contended Mug", "CONT-MUG")

	o := order.New()
	require.NoError(t, orders.Create(ctx, o))

	held, release := make(chan struct{}), make(chan struct{})
	cartDone := make(chan error, 1)
	go func() {
		cartDone <- orders.Lock(ctx, o.Number, func(ctx context.Context, locked *order.Order) error {
			v, err := repo.GetVariant(ctx, p.Master.ID)
			if err != nil {
				return err
			}
			close(held)
			<-release
			locked.AddLineItem(v.ID, 1, v.Price, nil)
			return orders.Save(ctx, locked)
		})
	}()
	select {
	case <-held:
	case err := <-cartDone:
		t.Fatalf("cart transaction ended early: %v", err)
	}

	archiveDone := make(chan error, 1)
	go func() {
		_, err := products.Archive(ctx, p.ID)
		archiveDone <- err
	}()
	assert.Never(t, func() bool { return len(archiveDone) > 0 }, 300*time.Millisecond, 20*time.Millisecond,
		"archive must wait for the cart transaction")
	close(release)
	require.NoError(t, <-cartDone)

	verr, ok := validation.From(<-archiveDone)
	require.True(t, ok)
	assert.Equal(t, []string{product.MsgAttachedToLineItems}, verr[validation.Base])

	stored, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, stored.Archived())
}

func TestOrderService_AddLineItemWaitsForArchive(t *testing.T) {
	ctx := context.Background()
	svc := newOrderService(t, order.DefaultConfig())
	repo := NewProductRepository(testPool)
	p := seedProduct(t, "Vanishing Mug", "VAN-MUG")

	o, err := svc.Create(ctx, order.CreateRequest{})
	require.NoError(t, err)

	held, release := make(chan struct{}), make(chan struct{})
	archiveDone := make(chan error, 1)
	go func() {
		archiveDone <- repo.LockMaster(ctx, p.ID, func(ctx context.Context) error {
			locked, err := repo.GetByID(ctx, p.ID)
			if err != nil {
				return err
			}
			close(held)
			<-release
			locked.Archive(time.Now())
			return repo.Update(ctx, locked)
		})
	}()
	select {
	case <-held:
	case err := <-archiveDone:
		t.Fatalf("archive transaction ended early: %v", err)
	}

	addDone := make(chan error, 1)
	go func() {
		_, err := svc.AddLineItem(ctx, o.Number, order.AddLineItemRequest{VariantID: p.Master.ID, Quantity: 1})
		addDone <- err
	}()
	assert.Never(t, func() bool { return len(addDone) > 0 }, 300*time.Millisecond, 20*time.Millisecond,
		"add to cart must wait for the archive transaction")
	close(release)
	require.NoError(t, <-archiveDone)

	verr, ok := validation.From(<-addDone)
	require.True(t, ok)
	assert.True(t, verr.Has("variant_id"))

	stored, err := NewOrderRepository(testPool).GetByNumber(ctx, o.Number)
	require.NoError(t, err)
	assert.Empty(t, stored.LineItems)
}

func TestStockRepository_Idempotent(t *testing.T) {
	ctx := context.Background()
	p := seedProduct(t, "Stock Cap", "STOCK-CAP")
	seedStock(t, "loc-1", p.Master.ID, 5)
	mover := NewStockRepository(testPool)

	m := stock.Movement{LocationID: "loc-1", VariantID: p.Master.ID, Quantity: 2, OriginatorID: "ship-1/0"}
	require.NoError(t, mover.DecreaseStockForVariant(ctx, m))
	require.NoError(t, mover.DecreaseStockForVariant(ctx, m))
	assert.Equal(t, 3, countOnHand(t, "loc-1", p.Master.ID))

	require.NoError(t, mover.RestockVariant(ctx, m))
	require.NoError(t, mover.RestockVariant(ctx, m))
	assert.Equal(t, 5, countOnHand(t, "loc-1", p.Master.ID))

	err := mover.DecreaseStockForVariant(ctx, stock.Movement{
		LocationID: "loc-1", VariantID: p.Master.ID, Quantity: 50, OriginatorID: "ship-2/0",
	})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	assert.Equal(t, 5, countOnHand(t, "loc-1", p.Master.ID))
}

func TestTaggingRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewTaggingRepository(testPool)
	target := tagging.Target{ID: "prod-tag", Type: "product"}

	_, err := repo.Tag(ctx, target, tagging.DefaultContext, []string{"Awesome", "awesome"}, tagging.Tagger{})
	require.NoError(t, err)
	_, err = repo.Tag(ctx, target, tagging.DefaultContext, []string{"Awesome"}, tagging.Tagger{})
	require.NoError(t, err)
	_, err = repo.Tag(ctx, target, tagging.DefaultContext, []string{"Awesome"}, tagging.Tagger{ID: "admin", Type: "user"})
	require.NoError(t, err)

	tags, err := repo.List(ctx, target, tagging.DefaultContext)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "Awesome", tags[0].Name)
	assert.Equal(t, "awesome", tags[1].Name)

	var taggings int
	err = testPool.QueryRow(ctx, `SELECT count(*) FROM taggings WHERE taggable_id = $1`, target.ID).Scan(&taggings)
	require.NoError(t, err)
	assert.Equal(t, 3, taggings)
}

func TestPromotionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPromotionRepository(testPool)
	require.NoError(t, repo.Upsert(ctx, []promotion.Promotion{{
		ID: "promo-int", Code: "Spring25", DiscountType: promotion.DiscountPercentage,
		Value: dec("25"), Active: true,
	}}))

	p, err := repo.FindByCode(ctx, "SPRING25")
	require.NoError(t, err)
	assert.Equal(t, "promo-int", p.ID)
	assert.True(t, p.Value.Equal(dec("25")))

	require.NoError(t, repo.IncrementUses(ctx, p.ID))
	p, err = repo.FindByCode(ctx, "spring25")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Uses)

	_, err = repo.FindByCode(ctx, "nope")
	require.ErrorIs(t, err, promotion.ErrInvalidCode)
}

func newOrderService(t *testing.T, cfg order.Config) *order.Service {
	t.Helper()
	require.NoError(t, NewPaymentMethodRepository(testPool).Upsert(context.Background(),
		payment.Method{ID: "pm-check", Name: "Check", DisplayOn: payment.DisplayBoth, Active: true}))

	promotions := NewPromotionRepository(testPool)
	svc, err := order.NewService(order.Deps{
		Orders:         NewOrderRepository(testPool),
		Variants:       NewProductRepository(testPool),
		Users:          NewUserRepository(testPool),
		Promotions:     promotion.NewRepoValidator(promotions),
		PromotionUses:  promotions,
		PaymentMethods: NewPaymentMethodRepository(testPool),
		Stock:          NewStockRepository(testPool),
	}, cfg)
	require.NoError(t, err)
	return svc
}

func testAddress() *user.Address {
	return &user.Address{
		FirstName: "John", LastName: "Doe", Address1: "10 Lovely Street",
		City: "Herndon", ZipCode: "35005", Country: "US",
	}
}

func TestOrderRepository_CheckoutAndCancel(t *testing.T) {
	ctx := context.Background()
	cfg := order.DefaultConfig()
	cfg.RestockOnCancel = true
	svc := newOrderService(t, cfg)

	p := seedProduct(t, "Checkout Shirt", "CO-SHIRT")
	seedStock(t, "loc-co", p.Master.ID, 10)

	o, err := svc.Create(ctx, order.CreateRequest{Email: "buyer@example.com"})
	require.NoError(t, err)
	n := o.Number

	_, err = svc.AddLineItem(ctx, n, order.AddLineItemRequest{VariantID: p.Master.ID, Quantity: 2})
	require.NoError(t, err)
	_, err = svc.SetAddress(ctx, n, order.AddressRequest{BillAddress: testAddress(), UseBilling: true})
	require.NoError(t, err)
	for range 2 {
		_, err = svc.Next(ctx, n)
		require.NoError(t, err)
	}
	_, err = svc.CreateShipment(ctx, n, order.ShipmentRequest{StockLocationID: "loc-co", Cost: dec("5")})
	require.NoError(t, err)
	_, err = svc.Next(ctx, n)
	require.NoError(t, err)
	_, err = svc.AddPayments(ctx, n, []order.PaymentAttributes{{PaymentMethodID: "pm-check"}})
	require.NoError(t, err)
	_, err = svc.Next(ctx, n)
	require.NoError(t, err)
	done, err := svc.Next(ctx, n)
	require.NoError(t, err)
	require.Equal(t, order.StateComplete, done.State)

	stored, err := NewOrderRepository(testPool).GetByNumber(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, order.StateComplete, stored.State)
	assert.True(t, stored.Total.Equal(dec("44.98")))
	assert.Equal(t, order.PaymentPaid, stored.PaymentState)
	require.Len(t, stored.Payments, 1)
	assert.Equal(t, payment.StateCompleted, stored.Payments[0].State)
	assert.Equal(t, 8, countOnHand(t, "loc-co", p.Master.ID))

	has, err := NewProductRepository(testPool).HasLineItems(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, has)

	_, err = svc.CanceledBy(ctx, n, "")
	require.NoError(t, err)
	assert.Equal(t, 10, countOnHand(t, "loc-co", p.Master.ID))

	_, err = svc.Resume(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, 8, countOnHand(t, "loc-co", p.Master.ID))
}

func TestOrderRepository_CancelerReference(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)
	require.NoError(t, NewUserRepository(testPool).Upsert(ctx, &user.User{ID: "staff-1", Email: "staff@example.com"}))

	plain := order.New()
	require.NoError(t, repo.Create(ctx, plain))
	require.NoError(t, repo.Save(ctx, plain))
	var isNull bool
	require.NoError(t, testPool.QueryRow(ctx, `SELECT canceler_id IS NULL FROM orders WHERE id = $1`, plain.ID).Scan(&isNull))
	assert.True(t, isNull)
	got, err := repo.GetByNumber(ctx, plain.Number)
	require.NoError(t, err)
	assert.Empty(t, got.CancelerID)

	now := time.Now()
	byStaff := order.New()
	require.NoError(t, repo.Create(ctx, byStaff))
	byStaff.CanceledAt = &now
	byStaff.CancelerID = "staff-1"
	require.NoError(t, repo.Save(ctx, byStaff))
	got, err = repo.GetByNumber(ctx, byStaff.Number)
	require.NoError(t, err)
	assert.Equal(t, "staff-1", got.CancelerID)

	ghost := order.New()
	require.NoError(t, repo.Create(ctx, ghost))
	ghost.CancelerID = "nobody"
	assert.Error(t, repo.Save(ctx, ghost))
}

func TestOrderRepository_StaleSave(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	o := order.New()
	require.NoError(t, repo.Create(ctx, o))

	first, err := repo.GetByNumber(ctx, o.Number)
	require.NoError(t, err)
	second, err := repo.GetByNumber(ctx, o.Number)
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, first))
	err = repo.Save(ctx, second)
	require.ErrorIs(t, err, order.ErrStale)
}

func TestOrderRepository_NumberTaken(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	o := order.New()
	require.NoError(t, repo.Create(ctx, o))

	dup := order.New()
	dup.Number = o.Number
	require.ErrorIs(t, repo.Create(ctx, dup), order.ErrNumberTaken)
}

func TestOrderRepository_LockRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	o := order.New()
	o.Email = "before@example.com"
	require.NoError(t, repo.Create(ctx, o))

	err := repo.Lock(ctx, o.Number, func(ctx context.Context, locked *order.Order) error {
		locked.Email = "after@example.com"
		if err := repo.Save(ctx, locked); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := repo.GetByNumber(ctx, o.Number)
	require.NoError(t, err)
	assert.Equal(t, "before@example.com", got.Email)
}
