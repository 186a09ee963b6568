// Package tariff loads and caches per-canton premium tables.
package tariff

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/praemienvergleich/api/internal/platform/dataset"
	"github.com/praemienvergleich/api/pkg/cache"
	"github.com/praemienvergleich/api/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrDataUnavailable signals a canton table that could not be loaded.
var ErrDataUnavailable = dataset.ErrUnavailable

// CantonTable maps premium region (decimal string) to bucket key to tariffs.
type CantonTable map[string]map[string][]model.TariffEntry

// Key builds the bucket key "ageGroup-accidentFlag-deductible", e.g. "adult-true-300".
func Key(ageGroup model.AgeGroup, accident bool, deductible int) string {
	return string(ageGroup) + "-" + strconv.FormatBool(accident) + "-" + strconv.Itoa(deductible)
}

// KeyFor is Key for an insured person.
func KeyFor(p model.InsuredPerson) string {
	return Key(p.AgeGroup, p.AccidentCoverageIncluded, p.Deductible)
}

// Entries returns the tariffs applicable to p in region. The slice belongs to
// the cached table and must not be modified.
func (t CantonTable) Entries(region int, p model.InsuredPerson) []model.TariffEntry {
	buckets, ok := t[strconv.Itoa(region)]
	if !ok {
		return nil
	}
	return buckets[KeyFor(p)]
}

// Store fetches canton tables lazily and keeps them for the process lifetime.
type Store struct {
	tables *cache.Keyed[CantonTable]
}

// NewStore returns a Store reading tariffs/{canton}.json from src.
func NewStore(src dataset.Source) *Store {
	return &Store{
		tables: cache.NewKeyed(func(ctx context.Context, canton string) (CantonTable, error) {
			var table CantonTable
			if err := dataset.DecodeJSON(ctx, src, dataset.TariffPath(canton), &table); err != nil {
				return nil, fmt.Errorf("%w for canton %s: %w", ErrDataUnavailable, canton, err)
			}
			return table, nil
		}),
	}
}

// Load returns the table of canton, fetching it on first use.
func (s *Store) Load(ctx context.Context, canton string) (CantonTable, error) {
	code := strings.ToUpper(strings.TrimSpace(canton))
	if code == "" {
		return nil, fmt.Errorf("%w: empty canton", ErrDataUnavailable)
	}
	return s.tables.Get(ctx, code)
}

// Cached reports how many canton tables are in memory.
func (s *Store) Cached() int {
	return s.tables.Len()
}

// Warm preloads cantons with at most parallel concurrent fetches. Failures are
// logged and counted; they never abort the warmup.
func (s *Store) Warm(ctx context.Context, cantons []string, parallel int, logger *zap.Logger) int {
	if parallel <= 0 {
		parallel = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var g errgroup.Group
	g.SetLimit(parallel)
	failed := make([]bool, len(cantons))
	for i, canton := range cantons {
		i, canton := i, canton
		g.Go(func() error {
			if _, err := s.Load(ctx, canton); err != nil {
				failed[i] = true
				logger.Warn("preload tariff table failed", zap.String("canton", canton), zap.Error(err))
				return nil
			}
			logger.Debug("preloaded tariff table", zap.String("canton", canton))
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	return n
}
