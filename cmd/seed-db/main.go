// Command seed-db loads the product catalog, a starter set of pricing rules,
// and a development API key into the database. Safe to re-run: everything is
// upserted.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nghednh/flowershop-checkout/internal/repository"
)

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
}

const (
	upsertProductSQL = `
INSERT INTO products (id, name, category, price, active)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name, category = EXCLUDED.category,
    price = EXCLUDED.price, active = TRUE`

	upsertRuleSQL = `
INSERT INTO pricing_rules
    (id, scope, target_id, kind, value_type, value, stackable, priority, starts_at, ends_at, recurrence, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
ON CONFLICT (id) DO UPDATE SET
    scope = EXCLUDED.scope, target_id = EXCLUDED.target_id,
    kind = EXCLUDED.kind, value_type = EXCLUDED.value_type,
    value = EXCLUDED.value, stackable = EXCLUDED.stackable,
    priority = EXCLUDED.priority, starts_at = EXCLUDED.starts_at,
    ends_at = EXCLUDED.ends_at, recurrence = EXCLUDED.recurrence,
    active = TRUE`

	upsertAPIKeySQL = `
INSERT INTO api_keys (id, key_hash, owner_id, name, role, active)
VALUES ($1, $2, $3, $4, $5, TRUE)
ON CONFLICT (id) DO UPDATE SET
    key_hash = EXCLUDED.key_hash, owner_id = EXCLUDED.owner_id,
    name = EXCLUDED.name, role = EXCLUDED.role, active = TRUE`

	upsertAddressSQL = `
INSERT INTO addresses (id, owner_id, recipient, street, city, postal_code, phone)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`
)

type seedRule struct {
	id        string
	scope     string
	targetID  string
	kind      string
	valueType string
	value     string
	stackable bool
	priority  int
	recur     string
}

// Starter rules: a category promotion, a store-wide happy hour, and a
// delivery surcharge on the whole cart.
var seedRules = []seedRule{
	{id: "bouquets-10-off", scope: "category", targetID: "bouquets", kind: "discount", valueType: "percent", value: "10", priority: 10, recur: "none"},
	{id: "happy-hour", scope: "cart", kind: "discount", valueType: "percent", value: "5", stackable: true, priority: 5, recur: "daily"},
	{id: "handling-fee", scope: "cart", kind: "surcharge", valueType: "absolute", value: "1.50", stackable: true, priority: 0, recur: "none"},
}

func main() {
	var (
		databaseURL    string
		productsFile   string
		apiKey         string
		operatorAPIKey string
		apiKeyPepper   string
		ownerID        string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or CHECKOUT_SEED_API_KEY env)")
	flag.StringVar(&operatorAPIKey, "operator-api-key", "", "operator API key to seed (or CHECKOUT_SEED_OPERATOR_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CHECKOUT_API_KEY_PEPPER env)")
	flag.StringVar(&ownerID, "owner-id", "demo", "owner ID the seeded API key authenticates as")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("CHECKOUT_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or CHECKOUT_SEED_API_KEY")
		os.Exit(1)
	}
	if operatorAPIKey == "" {
		operatorAPIKey = os.Getenv("CHECKOUT_SEED_OPERATOR_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CHECKOUT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, operatorAPIKey, apiKeyPepper, ownerID); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, operatorAPIKey, pepper, ownerID string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedPricingRules(ctx, pool); err != nil {
		return errors.Wrap(err, "seed pricing rules")
	}
	if err := seedAPIKey(ctx, pool, "default", apiKey, pepper, ownerID, "Default dev key", "customer"); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	if operatorAPIKey != "" {
		if err := seedAPIKey(ctx, pool, "operator", operatorAPIKey, pepper, "ops", "Operator dev key", "operator"); err != nil {
			return errors.Wrap(err, "seed operator api key")
		}
	}
	if err := seedAddress(ctx, pool, ownerID); err != nil {
		return errors.Wrap(err, "seed address")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Category, p.Price); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedPricingRules(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding pricing rules", slog.Int("count", len(seedRules)))

	startsAt := time.Now().Truncate(24 * time.Hour)
	for _, r := range seedRules {
		value, err := decimal.NewFromString(r.value)
		if err != nil {
			return errors.Wrapf(err, "parse value for rule %s", r.id)
		}

		if _, err := pool.Exec(ctx, upsertRuleSQL,
			r.id, r.scope, r.targetID, r.kind, r.valueType, value,
			r.stackable, r.priority, startsAt, nil, r.recur,
		); err != nil {
			return errors.Wrapf(err, "upsert rule %s", r.id)
		}

		slog.Info("upserted rule", slog.String("id", r.id), slog.String("scope", r.scope))
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, id, apiKey, pepper, ownerID, name, role string) error {
	slog.Info("seeding API key",
		slog.String("id", id),
		slog.String("owner_id", ownerID),
		slog.String("role", role))

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if _, err := pool.Exec(ctx, upsertAPIKeySQL, id, keyHash, ownerID, name, role); err != nil {
		return errors.Wrapf(err, "upsert API key %s", id)
	}

	return nil
}

func seedAddress(ctx context.Context, pool *pgxpool.Pool, ownerID string) error {
	_, err := pool.Exec(ctx, upsertAddressSQL,
		"addr-demo", ownerID, "Demo Recipient", "1 Rose Lane", "Springfield", "12345", "")
	if err != nil {
		return errors.Wrap(err, "upsert demo address")
	}

	slog.Info("upserted demo address", slog.String("id", "addr-demo"))

	return nil
}
