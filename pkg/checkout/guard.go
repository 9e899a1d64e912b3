package checkout

import (
	"errors"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// ErrDuplicateOrder is returned when an order id was already paid, or is being
// paid, by this process.
var ErrDuplicateOrder = errors.New("order already submitted")

// OrderGuard remembers paid order ids. A bloom filter keeps memory flat;
// a false positive refuses a fresh order, never pays one twice.
type OrderGuard struct {
	mu       sync.Mutex
	filter   *bloom.BloomFilter
	inflight map[string]struct{}
}

// NewOrderGuard sizes the filter for n orders at false positive rate fpRate.
func NewOrderGuard(n uint, fpRate float64) *OrderGuard {
	return &OrderGuard{
		filter:   bloom.NewWithEstimates(n, fpRate),
		inflight: make(map[string]struct{}),
	}
}

// Reserve claims orderID for one payment attempt. The returned release must be
// called once the attempt ends; paid records the order so it is refused from
// then on, otherwise the order may be retried.
func (g *OrderGuard) Reserve(orderID string) (release func(paid bool), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inflight[orderID]; busy || g.filter.TestString(orderID) {
		return nil, ErrDuplicateOrder
	}
	g.inflight[orderID] = struct{}{}

	var once sync.Once
	return func(paid bool) {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.inflight, orderID)
			if paid {
				g.filter.AddString(orderID)
			}
		})
	}, nil
}

// Paid reports whether orderID was recorded as paid.
func (g *OrderGuard) Paid(orderID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.filter.TestString(orderID)
}
