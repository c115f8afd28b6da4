package connection

import "sync/atomic"

type Stats struct {
	Calls         uint64 // requests sent with a tag
	Notifies      uint64
	Resolved      uint64
	Rejected      uint64 // outstanding calls failed by Abort
	Expired       uint64 // calls abandoned at their deadline
	Unmatched     uint64 // responses nobody was waiting for
	Dispatched    uint64
	HandlerErrors uint64
	UnknownOps    uint64
	DecodeErrors  uint64
	Outstanding   int
}

type counters struct {
	calls, notifies, resolved, rejected, expired, unmatched atomic.Uint64
	dispatched, handlerErrors, unknownOps, decodeErrors    atomic.Uint64
}
