//go:build integration

// Package integration runs the storage layer against a real PostgreSQL
// instance started through testcontainers.
package integration

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/velstore/marketplace-core/internal/domain/order"
	"github.com/velstore/marketplace-core/internal/storage/postgres"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := pgcontainer.Run(ctx, "postgres:16-alpine",
		pgcontainer.WithDatabase("marketplace"),
		pgcontainer.WithUsername("marketplace"),
		pgcontainer.WithPassword("marketplace"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}

	pool, err = postgres.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	return m.Run()
}

// Fixture helpers. Each seeds one row and fails the test on error.

func seedSeller(t *testing.T, name string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO sellers (id, name, pickup_location, partner_email, partner_password)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, name, name+" Warehouse", name+"@partner.test", "secret")
	if err != nil {
		t.Fatalf("seed seller: %v", err)
	}
	return id
}

func seedUnit(t *testing.T, sellerID, basePrice string, discount string, stock int) string {
	t.Helper()
	ctx := context.Background()

	productID := uuid.New().String()
	_, err := pool.Exec(ctx,
		`INSERT INTO products (id, seller_id, name, total_quantity) VALUES ($1, $2, $3, $4)`,
		productID, sellerID, "product "+productID[:8], stock)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}

	unitID := uuid.New().String()
	_, err = pool.Exec(ctx,
		`INSERT INTO catalog_units (id, product_id, seller_id, sku, name, base_price, discount_percent, stock)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		unitID, productID, sellerID, "SKU-"+unitID[:8], "unit "+unitID[:8], basePrice, discount, stock)
	if err != nil {
		t.Fatalf("seed unit: %v", err)
	}
	return unitID
}

func seedAddress(t *testing.T, buyerID string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO shipping_addresses (id, buyer_id, name, phone, street, city, state, postal_code, country)
		 VALUES ($1, $2, 'Asha Rao', '+919800000001', '14 Lake View Road', 'Bengaluru', 'Karnataka', '560001', 'India')`,
		id, buyerID)
	if err != nil {
		t.Fatalf("seed address: %v", err)
	}
	return id
}

// seedOrder builds an order with one sub-order per seller, each holding a
// single item of the given unit.
func seedOrder(t *testing.T, buyerID string, method order.PaymentMethod, units map[string]string) *order.Order {
	t.Helper()

	addrID := seedAddress(t, buyerID)
	o := &order.Order{
		ID:                uuid.New().String(),
		BuyerID:           buyerID,
		PaymentMethod:     method,
		Status:            order.StatusPending,
		DeliveryStatus:    order.DeliveryPending,
		ShippingAddressID: addrID,
	}
	total := decimal.Zero
	for sellerID, unitID := range units {
		price := decimal.RequireFromString("108.00")
		sub := order.SubOrder{
			ID:             uuid.New().String(),
			OrderID:        o.ID,
			SellerID:       sellerID,
			TotalAmount:    price.Mul(decimal.NewFromInt(2)),
			PaymentStatus:  order.PaymentStatusPending,
			DeliveryStatus: order.DeliveryPending,
			Items: []order.OrderItem{{
				ID:            uuid.New().String(),
				CatalogUnitID: unitID,
				Quantity:      2,
				Price:         price,
			}},
		}
		sub.Items[0].SubOrderID = sub.ID
		total = total.Add(sub.TotalAmount)
		o.SubOrders = append(o.SubOrders, sub)
	}
	o.TotalAmount = total

	if o.PaymentMethod == order.PaymentOnline {
		o.ExternalPaymentOrderID = fmt.Sprintf("rzp_%s", o.ID[:8])
	}

	repo := postgres.NewOrderRepository(pool)
	if err := repo.Create(context.Background(), o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}
