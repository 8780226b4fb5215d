// Command stock-ingest reconciles catalog stock with warehouse on-hand
// counts. Each warehouse exports a gzip-compressed CSV feed of
// "product_id,quantity" lines covering every SKU it stocks, most of which do
// not belong to this store. Counts are summed across warehouses and written
// as the new on-hand figure of each catalog product.
package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-store/internal/domain/product"
	"github.com/xenking/kart-store/internal/repository"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000_000
)

// feedStats summarizes one warehouse feed.
type feedStats struct {
	lines     uint64
	matched   uint64
	malformed uint64
}

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing warehouse feeds")
	flag.StringVar(&pattern, "pattern", "warehouse*.csv.gz", "glob matching feed files inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "compute counts without writing them")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, dataDir, pattern, databaseURL, dryRun); err != nil {
		lg.Fatal("Stock ingest failed", zap.Error(err))
	}
	lg.Info("Stock ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, dataDir, pattern, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "match feed files")
	}
	if len(files) == 0 {
		return errors.Errorf("no feeds matching %s in %s", pattern, dataDir)
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()
	products := repository.NewProductRepository(pool)

	catalog, err := products.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list catalog")
	}
	filter := catalogFilter(catalog)
	lg.Info("Catalog filter built", zap.Int("products", len(catalog)), zap.Int("feeds", len(files)))

	counts, err := countFeeds(ctx, lg, files, filter)
	if err != nil {
		return errors.Wrap(err, "count feeds")
	}
	if dryRun {
		lg.Info("Dry run, not writing", zap.Int("products", len(counts)))
		return nil
	}
	return applyCounts(ctx, lg, products, counts)
}

// catalogFilter returns a bloom filter of catalog ids. Feeds list far more
// SKUs than the catalog holds, and the filter rejects most of them without
// keeping an exact id set. False positives are caught on write.
func catalogFilter(catalog []product.Product) *bloom.BloomFilter {
	filter := bloom.NewWithEstimates(uint(max(len(catalog), 1)), bloomFPR)
	for _, p := range catalog {
		filter.AddString(p.ID)
	}
	return filter
}

// countFeeds scans all feeds concurrently and sums quantities per product.
func countFeeds(ctx context.Context, lg *zap.Logger, files []string, filter *bloom.BloomFilter) (map[string]int, error) {
	perFile := make([]map[string]int, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			counts, stats, err := countFeed(ctx, f, filter)
			if err != nil {
				return errors.Wrapf(err, "feed %s", filepath.Base(f))
			}
			lg.Info("Feed scanned",
				zap.String("file", filepath.Base(f)),
				zap.Uint64("lines", stats.lines),
				zap.Uint64("matched", stats.matched),
				zap.Uint64("malformed", stats.malformed),
			)
			perFile[i] = counts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := make(map[string]int)
	for _, counts := range perFile {
		for id, n := range counts {
			total[id] += n
		}
	}
	return total, nil
}

// countFeed streams one gzip-compressed feed.
func countFeed(ctx context.Context, path string, filter *bloom.BloomFilter) (map[string]int, feedStats, error) {
	var stats feedStats
	counts := make(map[string]int)

	f, err := os.Open(path)
	if err != nil {
		return nil, stats, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, stats, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		stats.lines++
		if stats.lines%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}
		id, qty, ok := parseLine(scanner.Text())
		if !ok {
			stats.malformed++
			continue
		}
		if !filter.TestString(id) {
			continue
		}
		stats.matched++
		counts[id] += qty
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, errors.Wrapf(err, "scan %s", path)
	}
	return counts, stats, ctx.Err()
}

// parseLine splits "product_id,quantity". Header, blank and negative lines
// are rejected.
func parseLine(line string) (string, int, bool) {
	id, rawQty, found := strings.Cut(strings.TrimSpace(line), ",")
	id = strings.TrimSpace(id)
	if !found || id == "" || id == "product_id" {
		return "", 0, false
	}
	qty, err := strconv.Atoi(strings.TrimSpace(rawQty))
	if err != nil || qty < 0 {
		return "", 0, false
	}
	return id, qty, true
}

type restocker interface {
	Restock(ctx context.Context, productID string, onHand int) error
}

// applyCounts writes on-hand counts in id order. Ids that passed the bloom
// filter but are not in the catalog are skipped.
func applyCounts(ctx context.Context, lg *zap.Logger, repo restocker, counts map[string]int) error {
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var skipped int
	for _, id := range ids {
		err := repo.Restock(ctx, id, counts[id])
		if errors.Is(err, product.ErrNotFound) {
			skipped++
			continue
		}
		if err != nil {
			return err
		}
	}
	lg.Info("Stock written", zap.Int("products", len(ids)-skipped), zap.Int("skipped", skipped))
	return nil
}
