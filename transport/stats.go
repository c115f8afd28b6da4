package transport

import "sync/atomic"

// Stats is a point-in-time copy of a transport's traffic counters.
type Stats struct {
	FramesIn  uint64
	FramesOut uint64
	BytesIn   uint64
	BytesOut  uint64
	Dropped   uint64 // text frames and sends refused while not Open
	Queued    int    // outbound frames not yet written
}

type counters struct {
	framesIn, framesOut atomic.Uint64
	bytesIn, bytesOut   atomic.Uint64
	dropped             atomic.Uint64
}

func (t *Transport) Stats() Stats {
	return Stats{
		FramesIn:  t.stats.framesIn.Load(),
		FramesOut: t.stats.framesOut.Load(),
		BytesIn:   t.stats.bytesIn.Load(),
		BytesOut:  t.stats.bytesOut.Load(),
		Dropped:   t.stats.dropped.Load(),
		Queued:    t.outbound.len(),
	}
}
