// Command seed-db loads sellers, products, catalog units, and test shipping
// addresses from a JSON fixture into PostgreSQL.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/velstore/marketplace-core/internal/storage/postgres"
)

type seedFile struct {
	Sellers   []sellerJSON  `json:"sellers"`
	Addresses []addressJSON `json:"addresses"`
}

type sellerJSON struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	PickupLocation  string        `json:"pickupLocation"`
	PartnerEmail    string        `json:"partnerEmail"`
	PartnerPassword string        `json:"partnerPassword"`
	Products        []productJSON `json:"products"`
}

type productJSON struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Units []unitJSON `json:"units"`
}

type unitJSON struct {
	ID              string          `json:"id"`
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	BasePrice       decimal.Decimal `json:"basePrice"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Stock           int             `json:"stock"`
}

type addressJSON struct {
	ID         string `json:"id"`
	BuyerID    string `json:"buyerId"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/marketplace.json", "path to seed JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath string) error {
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

	slog.Info("reading seed file", slog.String("path", seedPath))

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	for _, s := range seed.Sellers {
		if err := seedSeller(ctx, pool, s); err != nil {
			return errors.Wrapf(err, "seed seller %s", s.ID)
		}
	}
	for _, a := range seed.Addresses {
		if err := seedAddress(ctx, pool, a); err != nil {
			return errors.Wrapf(err, "seed address %s", a.ID)
		}
	}

	return nil
}

func seedSeller(ctx context.Context, pool *pgxpool.Pool, s sellerJSON) error {
	if _, err := pool.Exec(ctx,
		`INSERT INTO sellers (id, name, pickup_location, partner_email, partner_password)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   pickup_location = EXCLUDED.pickup_location,
		   partner_email = EXCLUDED.partner_email,
		   partner_password = EXCLUDED.partner_password`,
		s.ID, s.Name, s.PickupLocation, s.PartnerEmail, s.PartnerPassword,
	); err != nil {
		return errors.Wrap(err, "upsert seller")
	}

	slog.Info("upserted seller", slog.String("id", s.ID), slog.String("name", s.Name))

	for _, p := range s.Products {
		total := 0
		for _, u := range p.Units {
			total += u.Stock
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO products (id, seller_id, name, total_quantity)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET
			   name = EXCLUDED.name,
			   total_quantity = EXCLUDED.total_quantity`,
			p.ID, s.ID, p.Name, total,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		for _, u := range p.Units {
			if _, err := pool.Exec(ctx,
				`INSERT INTO catalog_units
				   (id, product_id, seller_id, sku, name, base_price, discount_percent, stock)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 ON CONFLICT (id) DO UPDATE SET
				   name = EXCLUDED.name,
				   base_price = EXCLUDED.base_price,
				   discount_percent = EXCLUDED.discount_percent,
				   stock = EXCLUDED.stock,
				   updated_at = now()`,
				u.ID, p.ID, s.ID, u.SKU, u.Name, u.BasePrice, u.DiscountPercent, u.Stock,
			); err != nil {
				return errors.Wrapf(err, "upsert catalog unit %s", u.ID)
			}
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.Int("units", len(p.Units)))
	}

	return nil
}

func seedAddress(ctx context.Context, pool *pgxpool.Pool, a addressJSON) error {
	if _, err := pool.Exec(ctx,
		`INSERT INTO shipping_addresses (id, buyer_id, name, phone, street, city, state, postal_code, country)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   phone = EXCLUDED.phone,
		   street = EXCLUDED.street,
		   city = EXCLUDED.city,
		   state = EXCLUDED.state,
		   postal_code = EXCLUDED.postal_code,
		   country = EXCLUDED.country`,
		a.ID, a.BuyerID, a.Name, a.Phone, a.Street, a.City, a.State, a.PostalCode, a.Country,
	); err != nil {
		return errors.Wrap(err, "upsert address")
	}

	slog.Info("upserted address", slog.String("id", a.ID), slog.String("buyer", a.BuyerID))
	return nil
}
