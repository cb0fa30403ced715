package nei

import "sync"

// bufferPool recycles scratch vectors of one length.
type bufferPool struct {
	pool sync.Pool
	size int
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]float64, size)
				return &buf
			},
		},
	}
}

func (p *bufferPool) Get() []float64 {
	return *p.pool.Get().(*[]float64)
}

func (p *bufferPool) Put(buf []float64) {
	if len(buf) == p.size {
		for i := range buf {
			buf[i] = 0
		}
		p.pool.Put(&buf)
	}
}

// pools hands out one bufferPool per state count.
type pools struct {
	m sync.Map
}

func (p *pools) get(size int) *bufferPool {
	if bp, ok := p.m.Load(size); ok {
		return bp.(*bufferPool)
	}
	bp, _ := p.m.LoadOrStore(size, newBufferPool(size))
	return bp.(*bufferPool)
}
