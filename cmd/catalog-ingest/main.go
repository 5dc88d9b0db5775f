// Command catalog-ingest bulk-loads supplier catalog feeds into PostgreSQL.
// Feeds are gzipped JSONL files, one catalog unit per line. SKUs are unique
// across the whole marketplace: the first feed to claim a SKU wins and later
// occurrences are skipped.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/velstore/marketplace-core/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxLineBytes  = 1 << 20
)

// feedLine is one catalog unit in a supplier feed.
type feedLine struct {
	SellerID        string          `json:"seller_id"`
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	UnitID          string          `json:"unit_id"`
	SKU             string          `json:"sku"`
	Name            string          `json:"name"`
	BasePrice       decimal.Decimal `json:"base_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Stock           int             `json:"stock"`
}

// skuSet tracks claimed SKUs. The bloom filter rejects most repeats without
// touching the exact set; the map resolves bloom false positives.
type skuSet struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

func newSKUSet() *skuSet {
	return &skuSet{
		filter: bloom.NewWithEstimates(bloomCapacity, bloomFPR),
		exact:  make(map[string]struct{}),
	}
}

// claim reports whether the SKU was free and marks it taken.
func (s *skuSet) claim(sku string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filter.TestAndAddString(sku) {
		if _, ok := s.exact[sku]; ok {
			return false
		}
	}
	s.exact[sku] = struct{}{}
	return true
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.jsonl.gz feed files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
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

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "list feed files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.jsonl.gz files in %s", dataDir)
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("ingesting feeds", slog.Int("files", len(files)))

	skus := newSKUSet()

	g, gctx := errgroup.WithContext(ctx)
	for _, file := range files {
		g.Go(func() error {
			return ingestFile(gctx, pool, skus, file)
		})
	}
	return g.Wait()
}

func ingestFile(ctx context.Context, pool *pgxpool.Pool, skus *skuSet, path string) error {
	slog.Info("ingesting feed", slog.String("file", path))

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip reader %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var total, inserted, skipped int
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		total++

		var line feedLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			slog.Warn("skipping malformed line",
				slog.String("file", path), slog.Int("line", total))
			continue
		}
		if line.SKU == "" || line.UnitID == "" || line.SellerID == "" {
			skipped++
			continue
		}
		if !skus.claim(line.SKU) {
			skipped++
			continue
		}

		if err := upsertUnit(ctx, pool, line); err != nil {
			return errors.Wrapf(err, "upsert unit %s", line.UnitID)
		}
		inserted++

		if total%progressEvery == 0 {
			slog.Info("progress",
				slog.String("file", path),
				slog.Int("lines", total),
				slog.Int("inserted", inserted))
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	slog.Info("feed done",
		slog.String("file", path),
		slog.Int("lines", total),
		slog.Int("inserted", inserted),
		slog.Int("skipped", skipped))
	return nil
}

func upsertUnit(ctx context.Context, pool *pgxpool.Pool, line feedLine) error {
	if _, err := pool.Exec(ctx,
		`INSERT INTO products (id, seller_id, name, total_quantity)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
		   total_quantity = products.total_quantity + EXCLUDED.total_quantity`,
		line.ProductID, line.SellerID, line.ProductName, line.Stock,
	); err != nil {
		return errors.Wrap(err, "upsert product")
	}

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
		line.UnitID, line.ProductID, line.SellerID, line.SKU, line.Name,
		line.BasePrice, line.DiscountPercent, line.Stock,
	); err != nil {
		return errors.Wrap(err, "upsert catalog unit")
	}
	return nil
}
