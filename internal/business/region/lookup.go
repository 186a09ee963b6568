// Package region resolves Swiss postal codes to cantonal premium regions.
package region

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/praemienvergleich/api/internal/platform/dataset"
	"github.com/praemienvergleich/api/pkg/cache"
	"github.com/praemienvergleich/api/pkg/model"
)

var (
	// ErrNotFound signals a postal code absent from the dataset.
	ErrNotFound = errors.New("postal code not found")
	// ErrDataUnavailable signals the region dataset could not be loaded.
	ErrDataUnavailable = dataset.ErrUnavailable
)

// Dataset is the decoded postal-code document.
type Dataset map[string][]model.PostalRegionEntry

// Match is a search hit.
type Match struct {
	PostalCode string `json:"postalCode"`
	model.PostalRegionEntry
}

// Lookup serves postal-code queries from the region dataset, fetched once.
type Lookup struct {
	data *cache.Keyed[Dataset]
}

// NewLookup returns a Lookup reading regions.json from src on first use.
func NewLookup(src dataset.Source) *Lookup {
	return &Lookup{
		data: cache.NewKeyed(func(ctx context.Context, name string) (Dataset, error) {
			var ds Dataset
			if err := dataset.DecodeJSON(ctx, src, name, &ds); err != nil {
				return nil, fmt.Errorf("%w: postal regions: %w", ErrDataUnavailable, err)
			}
			return ds, nil
		}),
	}
}

func (l *Lookup) dataset(ctx context.Context) (Dataset, error) {
	return l.data.Get(ctx, dataset.RegionsPath)
}

// Resolve returns every region entry of postalCode. The first entry is the
// default selection when there are several.
func (l *Lookup) Resolve(ctx context.Context, postalCode string) ([]model.PostalRegionEntry, error) {
	code := strings.TrimSpace(postalCode)
	if code == "" {
		return nil, ErrNotFound
	}
	ds, err := l.dataset(ctx)
	if err != nil {
		return nil, err
	}
	entries := ds[code]
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: %w", code, ErrNotFound)
	}
	out := make([]model.PostalRegionEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Search finds entries whose postal code starts with query or whose locality
// contains it, case-insensitively. Results are ordered by postal code and
// locality and capped at limit (no cap when limit <= 0).
func (l *Lookup) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []Match{}, nil
	}
	ds, err := l.dataset(ctx)
	if err != nil {
		return nil, err
	}

	matches := []Match{}
	for code, entries := range ds {
		codeHit := strings.HasPrefix(code, q)
		for _, e := range entries {
			if codeHit || strings.Contains(strings.ToLower(e.Locality), q) {
				matches = append(matches, Match{PostalCode: code, PostalRegionEntry: e})
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].PostalCode != matches[j].PostalCode {
			return matches[i].PostalCode < matches[j].PostalCode
		}
		return matches[i].Locality < matches[j].Locality
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
