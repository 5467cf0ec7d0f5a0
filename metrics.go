package threadsock

import (
	"github.com/rcrowley/go-metrics"
)

// socketMetrics is safe to use when nil, sockets created without a registry record nothing
type socketMetrics struct {
	rxPackets     metrics.Counter
	rxBytes       metrics.Counter
	rxErrors      metrics.Counter
	rxBufferFull  metrics.Counter
	rxInvalidSize metrics.Counter

	txPackets metrics.Counter
	txBytes   metrics.Counter
	txErrors  metrics.Counter
}

func newSocketMetrics(r metrics.Registry, s *Socket) *socketMetrics {
	if r == nil {
		return nil
	}

	r.GetOrRegister("rx.backlog", metrics.NewFunctionalGauge(func() int64 { return int64(s.packets.Len()) }))
	r.GetOrRegister("pool.free", metrics.NewFunctionalGauge(func() int64 { return int64(s.pool.Len()) }))
	r.GetOrRegister("pool.allocated", metrics.NewFunctionalGauge(s.pool.Allocated))
	r.GetOrRegister("pool.dropped", metrics.NewFunctionalGauge(s.pool.Dropped))

	return &socketMetrics{
		rxPackets:     metrics.GetOrRegisterCounter("rx.packets", r),
		rxBytes:       metrics.GetOrRegisterCounter("rx.bytes", r),
		rxErrors:      metrics.GetOrRegisterCounter("rx.errors", r),
		rxBufferFull:  metrics.GetOrRegisterCounter("rx.buffer_full", r),
		rxInvalidSize: metrics.GetOrRegisterCounter("rx.invalid_size", r),

		txPackets: metrics.GetOrRegisterCounter("tx.packets", r),
		txBytes:   metrics.GetOrRegisterCounter("tx.bytes", r),
		txErrors:  metrics.GetOrRegisterCounter("tx.errors", r),
	}
}

func (m *socketMetrics) Rx(size int) {
	if m != nil {
		m.rxPackets.Inc(1)
		m.rxBytes.Inc(int64(size))
	}
}

func (m *socketMetrics) RxError() {
	if m != nil {
		m.rxErrors.Inc(1)
	}
}

func (m *socketMetrics) BufferFull() {
	if m != nil {
		m.rxBufferFull.Inc(1)
	}
}

func (m *socketMetrics) InvalidSize() {
	if m != nil {
		m.rxInvalidSize.Inc(1)
	}
}

func (m *socketMetrics) Tx(size int, err error) {
	if m == nil {
		return
	}

	if err != nil {
		m.txErrors.Inc(1)
		return
	}
	m.txPackets.Inc(1)
	m.txBytes.Inc(int64(size))
}
