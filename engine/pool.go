package engine

import "sync"

// slotPool recycles slot-width float64 buffers used for encoding
// plaintexts and masks. Buffers come back zeroed so a pooled buffer
// never leaks values between requests.
type slotPool struct {
	pool sync.Pool
}

func newSlotPool(slots int) *slotPool {
	return &slotPool{pool: sync.Pool{
		New: func() interface{} {
			return make([]float64, slots)
		},
	}}
}

func (p *slotPool) get() []float64 {
	return p.pool.Get().([]float64)
}

func (p *slotPool) put(buf []float64) {
	for i := range buf {
		buf[i] = 0
	}
	p.pool.Put(buf)
}

var (
	slotPoolsMu sync.Mutex
	slotPools   = map[int]*slotPool{}
)

// slotBuffer returns a zeroed buffer of the given slot width.
func slotBuffer(slots int) []float64 {
	slotPoolsMu.Lock()
	p, ok := slotPools[slots]
	if !ok {
		p = newSlotPool(slots)
		slotPools[slots] = p
	}
	slotPoolsMu.Unlock()
	return p.get()
}

// releaseSlotBuffer zeroes and recycles a buffer from slotBuffer.
func releaseSlotBuffer(buf []float64) {
	slotPoolsMu.Lock()
	p, ok := slotPools[len(buf)]
	slotPoolsMu.Unlock()
	if ok {
		p.put(buf)
	}
}
