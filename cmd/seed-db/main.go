package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/storage/postgres"
)

// defaultLocation is the stock location seeded products are stocked at.
const defaultLocation = "default"

type productJSON struct {
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	Price         decimal.Decimal     `json:"price"`
	SKU           string              `json:"sku"`
	Prototype     string              `json:"prototype"`
	Options       map[string][]string `json:"options"`
	Properties    map[string]string   `json:"properties"`
	Stock         int                 `json:"stock"`
	Backorderable bool                `json:"backorderable"`
}

var optionTypes = []product.OptionType{
	{
		ID: "size", Name: "tshirt-size", Presentation: "Size",
		Values: []product.OptionValue{
			{ID: "size-s", OptionTypeID: "size", Name: "small", Presentation: "S"},
			{ID: "size-m", OptionTypeID: "size", Name: "medium", Presentation: "M"},
			{ID: "size-l", OptionTypeID: "size", Name: "large", Presentation: "L"},
		},
	},
	{
		ID: "color", Name: "tshirt-color", Presentation: "Color",
		Values: []product.OptionValue{
			{ID: "color-red", OptionTypeID: "color", Name: "red", Presentation: "Red"},
			{ID: "color-blue", OptionTypeID: "color", Name: "blue", Presentation: "Blue"},
		},
	},
}

var prototypes = []product.Prototype{
	{
		ID:   "shirt",
		Name: "Shirt",
		Properties: []product.Property{
			{ID: "shirt-material", Name: "material", Presentation: "Material"},
			{ID: "shirt-fit", Name: "fit", Presentation: "Fit"},
		},
		OptionTypes: optionTypes,
	},
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		adminKey     string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "storefront API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&adminKey, "admin-key", "", "admin API key to seed (or SHOP_SEED_ADMIN_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("SHOP_SEED_ADMIN_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	keys := map[string]string{apiKey: auth.ScopeStorefront}
	if adminKey != "" {
		keys[adminKey] = auth.ScopeAdmin
	}
	if err := run(ctx, databaseURL, productsFile, keys, []byte(apiKeyPepper)); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string, keys map[string]string, pepper []byte) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedUsers(ctx, postgres.NewUserRepository(pool)); err != nil {
		return errors.Wrap(err, "seed users")
	}
	if err := seedAPIKeys(ctx, postgres.NewAPIKeyRepository(pool), keys, pepper); err != nil {
		return errors.Wrap(err, "seed api keys")
	}
	if err := seedPaymentMethods(ctx, postgres.NewPaymentMethodRepository(pool)); err != nil {
		return errors.Wrap(err, "seed payment methods")
	}

	options := postgres.NewOptionRepository(pool)
	if err := seedOptions(ctx, options); err != nil {
		return errors.Wrap(err, "seed option types")
	}

	products := postgres.NewProductRepository(pool)
	svc := product.NewService(products, options, postgres.NewTaggingRepository(pool))
	if err := seedProducts(ctx, svc, products, postgres.NewStockRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedPromotions(ctx, postgres.NewPromotionRepository(pool)); err != nil {
		return errors.Wrap(err, "seed promotions")
	}

	return nil
}

func seedUsers(ctx context.Context, repo *postgres.UserRepository) error {
	slog.Info("seeding demo customer")

	addr := &user.Address{
		FirstName: "John",
		LastName:  "Doe",
		Address1:  "10 Lovely Street",
		City:      "Herndon",
		ZipCode:   "35005",
		Phone:     "555-555-0199",
		State:     "AL",
		Country:   "US",
	}
	u := &user.User{
		ID:          "demo",
		Email:       "demo@example.com",
		BillAddress: addr,
		ShipAddress: addr,
	}
	if err := repo.Upsert(ctx, u); err != nil {
		return errors.Wrapf(err, "upsert user %s", u.ID)
	}

	slog.Info("upserted user", slog.String("id", u.ID), slog.String("email", u.Email))
	return nil
}

func seedAPIKeys(ctx context.Context, repo *postgres.APIKeyRepository, keys map[string]string, pepper []byte) error {
	slog.Info("seeding API keys", slog.Int("count", len(keys)))

	for key, scope := range keys {
		info := &auth.APIKeyInfo{
			ID:      scope,
			KeyHash: auth.Hash(pepper, key),
			Name:    "Default " + scope + " key",
			Scopes:  []string{scope},
		}
		if scope == auth.ScopeStorefront {
			info.UserID = "demo"
		}
		if err := repo.Upsert(ctx, info); err != nil {
			return errors.Wrapf(err, "upsert %s API key", scope)
		}

		slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))
	}

	return nil
}

func seedPaymentMethods(ctx context.Context, repo *postgres.PaymentMethodRepository) error {
	slog.Info("seeding payment methods")

	methods := []payment.Method{
		{ID: "check", Name: "Check", DisplayOn: payment.DisplayBoth, Active: true},
		{ID: "credit-card", Name: "Credit Card", DisplayOn: payment.DisplayFrontEnd, Active: true},
		{ID: "store-credit", Name: "Store Credit", DisplayOn: payment.DisplayBackEnd, Active: true},
	}
	if err := repo.Upsert(ctx, methods...); err != nil {
		return err
	}

	slog.Info("upserted payment methods", slog.Int("count", len(methods)))
	return nil
}

func seedOptions(ctx context.Context, repo *postgres.OptionRepository) error {
	for i := range optionTypes {
		if err := repo.SaveOptionType(ctx, &optionTypes[i]); err != nil {
			return err
		}
		slog.Info("upserted option type", slog.String("id", optionTypes[i].ID))
	}
	for i := range prototypes {
		if err := repo.SavePrototype(ctx, &prototypes[i]); err != nil {
			return err
		}
		slog.Info("upserted prototype", slog.String("id", prototypes[i].ID))
	}
	return nil
}

func seedProducts(
	ctx context.Context,
	svc *product.Service,
	products product.Repository,
	stock *postgres.StockRepository,
	productsFile string,
) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var items []productJSON
	if err := json.Unmarshal(data, &items); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("creating products", slog.Int("count", len(items)))

	for _, item := range items {
		taken, err := products.SKUTaken(ctx, item.SKU, "")
		if err != nil {
			return errors.Wrapf(err, "check sku %s", item.SKU)
		}
		if taken {
			slog.Info("product exists, skipping", slog.String("sku", item.SKU))
			continue
		}

		p, err := svc.Create(ctx, createRequest(item))
		if err != nil {
			return errors.Wrapf(err, "create product %s", item.SKU)
		}
		for _, v := range p.VariantsIncludingMaster() {
			if err := stock.SetCountOnHand(ctx, defaultLocation, v.ID, item.Stock, item.Backorderable); err != nil {
				return errors.Wrapf(err, "stock variant %s", v.SKU)
			}
		}

		slog.Info("created product",
			slog.String("id", p.ID),
			slog.String("slug", p.Slug),
			slog.Int("variants", len(p.Variants)),
		)
	}

	return nil
}

func createRequest(item productJSON) product.CreateRequest {
	req := product.CreateRequest{
		Name:        item.Name,
		Description: item.Description,
		Price:       item.Price,
		SKU:         item.SKU,
		PrototypeID: item.Prototype,
	}
	// Map iteration order is random; option types follow the seeded order.
	for _, ot := range optionTypes {
		if ids, ok := item.Options[ot.ID]; ok {
			req.OptionValues = append(req.OptionValues, product.OptionChoice{OptionTypeID: ot.ID, ValueIDs: ids})
		}
	}
	names := make([]string, 0, len(item.Properties))
	for name := range item.Properties {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		req.Properties = append(req.Properties, product.ProductProperty{
			Name:         name,
			Presentation: strings.ToUpper(name[:1]) + name[1:],
			Value:        item.Properties[name],
		})
	}
	return req
}

func seedPromotions(ctx context.Context, repo *postgres.PromotionRepository) error {
	slog.Info("seeding promotions")

	promotions := []promotion.Promotion{
		{
			ID:           "happyhours",
			Code:         "HAPPYHOURS",
			DiscountType: promotion.DiscountPercentage,
			Value:        decimal.NewFromInt(18),
			Description:  "Happy Hours: 18% off entire order",
			Active:       true,
		},
		{
			ID:           "buygetone",
			Code:         "BUYGETONE",
			DiscountType: promotion.DiscountFreeLowest,
			MinItems:     2,
			Description:  "Buy one get one: lowest priced item free",
			Active:       true,
		},
		{
			ID:           "tenoff",
			Code:         "TENOFF",
			DiscountType: promotion.DiscountFixed,
			Value:        decimal.NewFromInt(10),
			MaxUses:      100,
			Description:  "$10 off your order",
			Active:       true,
		},
	}
	if err := repo.Upsert(ctx, promotions); err != nil {
		return err
	}

	for _, p := range promotions {
		slog.Info("upserted promotion", slog.String("code", p.Code), slog.String("description", p.Description))
	}
	return nil
}
