// Command promo-ingest loads promotion codes from gzip-compressed code lists.
// A code becomes a promotion when it appears in at least -min-files lists.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
	// maxFiles is bounded by the per-code file bitmask.
	maxFiles = bits.UintSize
)

// codeNamespace derives stable promotion IDs from codes, so re-running the
// ingest updates rows instead of duplicating them.
var codeNamespace = uuid.MustParse("6f0d3f64-5d5b-4a57-9a43-3c1e8e0a0b7e")

// rule describes the promotion created for a known code.
type rule struct {
	discountType promotion.DiscountType
	value        string
	minItems     int
	description  string
}

var rules = map[string]rule{
	"BIRTHDAY": {promotion.DiscountFreeLowest, "0", 0, "Birthday: free lowest item"},
	"BUYGETON": {promotion.DiscountFreeLowest, "0", 2, "Lowest item free (buy 2+)"},
	"FIFTYOFF": {promotion.DiscountPercentage, "50", 0, "50% off entire order"},
	"SIXTYOFF": {promotion.DiscountPercentage, "60", 0, "60% off entire order"},
	"GNULINUX": {promotion.DiscountPercentage, "15", 0, "Open source discount: 15% off"},
	"OVER9000": {promotion.DiscountFixed, "9", 0, "$9 off your order"},
	"HAPPYHRS": {promotion.DiscountPercentage, "18", 0, "Happy Hours: 18% off"},
}

var defaultRule = rule{promotion.DiscountPercentage, "10", 0, "Promo code: 10% off"}

type options struct {
	pattern     string
	databaseURL string
	capacity    uint
	minFiles    int
	batchSize   int
}

func main() {
	var opts options

	flag.StringVar(&opts.pattern, "files", "data/promo*.gz", "glob matching gzip-compressed code lists")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&opts.capacity, "capacity", 120_000_000, "expected codes per file, sizes the bloom filters")
	flag.IntVar(&opts.minFiles, "min-files", 2, "number of lists a code must appear in")
	flag.IntVar(&opts.batchSize, "batch-size", 1000, "promotions written per batch")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("promotion ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promotion ingest completed successfully")
}

func run(ctx context.Context, opts options) error {
	files, err := filepath.Glob(opts.pattern)
	if err != nil {
		return errors.Wrapf(err, "match %q", opts.pattern)
	}
	switch {
	case len(files) == 0:
		return errors.Errorf("no files match %q", opts.pattern)
	case len(files) > maxFiles:
		return errors.Errorf("%d files match %q, at most %d supported", len(files), opts.pattern, maxFiles)
	case opts.minFiles < 1 || opts.minFiles > len(files):
		return errors.Errorf("min-files must be between 1 and %d", len(files))
	}
	slices.Sort(files)

	var codes []string
	if opts.minFiles == 1 {
		codes, err = collectCodes(ctx, files)
	} else {
		slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
		var filters []*bloom.BloomFilter
		filters, err = buildBloomFilters(ctx, files, opts.capacity)
		if err == nil {
			slog.Info("pass 2: finding shared codes")
			codes, err = findSharedCodes(ctx, files, filters, opts.minFiles)
		}
	}
	if err != nil {
		return err
	}

	slog.Info("codes found", slog.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	promotions, err := buildPromotions(codes)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewPromotionRepository(pool)
	written := 0
	for batch := range slices.Chunk(promotions, opts.batchSize) {
		if err := repo.Upsert(ctx, batch); err != nil {
			return errors.Wrap(err, "write promotions")
		}
		written += len(batch)
		slog.Info("write progress", slog.Int("written", written), slog.Int("total", len(promotions)))
	}

	return nil
}

func validCode(code string) bool {
	return len(code) >= minCodeLen && len(code) <= maxCodeLen
}

// collectCodes returns every valid code of every file.
func collectCodes(ctx context.Context, files []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, f := range files {
		if err := streamGzFile(ctx, f, func(code string) {
			if validCode(code) {
				seen[code] = struct{}{}
			}
		}); err != nil {
			return nil, err
		}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	return codes, nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, capacity uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(capacity, bloomFPR)
			var count uint64
			if err := streamGzFile(ctx, path, func(code string) {
				if !validCode(code) {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			slog.Info("pass 1 complete", slog.String("file", path), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findSharedCodes re-streams each file and records, per code, the bitmask of
// files whose filter also contains it. Codes whose merged mask covers at
// least minFiles files are returned.
func findSharedCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter, minFiles int) ([]string, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			var count uint64
			if err := streamGzFile(ctx, path, func(code string) {
				if !validCode(code) {
					return
				}
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.String("file", path), slog.Uint64("codes", count))
				}
				mask := uint(1) << uint(i)
				for j, f := range filters {
					if j != i && f.TestString(code) {
						mask |= uint(1) << uint(j)
					}
				}
				if bits.OnesCount(mask) >= minFiles {
					candidates[code] |= mask
				}
			}); err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			slog.Info("pass 2 complete",
				slog.String("file", path),
				slog.Uint64("total_codes", count),
				slog.Int("candidates", len(candidates)),
			)
			results[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// A code only counts files it was actually read from, which removes
	// bloom false positives.
	merged := make(map[string]uint)
	for i, r := range results {
		for code := range r {
			merged[code] |= uint(1) << uint(i)
		}
	}

	var shared []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= minFiles {
			shared = append(shared, code)
		}
	}
	return shared, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each trimmed line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(strings.ToUpper(strings.TrimSpace(scanner.Text())))
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// buildPromotions maps codes to promotions, sorted by code.
func buildPromotions(codes []string) ([]promotion.Promotion, error) {
	slices.Sort(codes)
	out := make([]promotion.Promotion, 0, len(codes))
	for _, code := range codes {
		r, ok := rules[code]
		if !ok {
			r = defaultRule
		}
		value, err := decimal.NewFromString(r.value)
		if err != nil {
			return nil, errors.Wrapf(err, "parse value for code %s", code)
		}
		out = append(out, promotion.Promotion{
			ID:           uuid.NewSHA1(codeNamespace, []byte(code)).String(),
			Code:         code,
			Description:  r.description,
			DiscountType: r.discountType,
			Value:        value,
			MinItems:     r.minItems,
			Active:       true,
		})
	}
	return out, nil
}
