package compare

import (
	"strconv"
	"strings"
	"sync"

	"github.com/praemienvergleich/api/pkg/model"
)

// Memo remembers the result of the last Aggregate call and returns it while
// the arguments stay the same. The returned slice is shared and must not be
// modified; use Order for a display copy.
type Memo struct {
	mu     sync.Mutex
	key    string
	offers []model.InsurerOffer
	valid  bool
	misses int
}

// Aggregate returns Aggregate(lists, opts), reusing the previous result when
// the arguments are unchanged.
func (m *Memo) Aggregate(lists [][]model.TariffEntry, opts Options) []model.InsurerOffer {
	key := fingerprint(lists, opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.valid && m.key == key {
		return m.offers
	}
	m.misses++
	m.offers = Aggregate(lists, opts)
	m.key = key
	m.valid = true
	return m.offers
}

// Reset forgets the remembered result.
func (m *Memo) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.valid = false
	m.offers = nil
	m.key = ""
}

// Computations reports how many times the memo had to recompute.
func (m *Memo) Computations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.misses
}

func fingerprint(lists [][]model.TariffEntry, opts Options) string {
	var b strings.Builder
	filter := opts.Filter
	if filter == "" {
		filter = FilterAll
	}
	b.WriteString(string(filter))
	b.WriteByte('|')
	b.WriteString(opts.ReferencePremium.String())
	for _, list := range lists {
		b.WriteString("\n")
		for _, e := range list {
			b.WriteString(strconv.Itoa(e.InsurerID))
			b.WriteByte(',')
			b.WriteString(e.InsurerName)
			b.WriteByte(',')
			b.WriteString(e.TariffID)
			b.WriteByte(',')
			b.WriteString(e.TariffName)
			b.WriteByte(',')
			b.WriteString(string(e.ModelType))
			b.WriteByte(',')
			b.WriteString(e.MonthlyPremium.String())
			b.WriteByte(';')
		}
	}
	return b.String()
}
