package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Digest folds every emitted decision and gate outcome into one run hash.
// Each symbol folds into its own stream, so concurrent workers never race,
// and the final sum combines streams in sorted symbol order. Two replay
// runs over the same input data produce the same digest.
type Digest struct {
	mu      sync.Mutex
	streams map[string]*xxhash.Digest
}

func NewDigest() *Digest {
	return &Digest{streams: make(map[string]*xxhash.Digest)}
}

// Fold appends one canonical record line to the symbol's stream.
func (d *Digest) Fold(symbol, line string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.streams[symbol]
	if !ok {
		s = xxhash.New()
		d.streams[symbol] = s
	}
	_, _ = s.WriteString(line)
	_, _ = s.WriteString("\n")
}

// Sum combines the per-symbol streams into the run digest.
func (d *Digest) Sum() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	symbols := make([]string, 0, len(d.streams))
	for sym := range d.streams {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	combined := xxhash.New()
	for _, sym := range symbols {
		_, _ = combined.WriteString(fmt.Sprintf("%s=%016x\n", sym, d.streams[sym].Sum64()))
	}
	return fmt.Sprintf("%016x", combined.Sum64())
}
