// Package alive implements the AliveCheck liveness exchange.
//
// Each side stamps its requests with the current time and a running sequence
// number. The answering side echoes both back next to its own pair, so the
// caller can measure the round trip and spot reordered or lost checks.
package alive

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"spacelink/connection"
	"spacelink/message"
	"spacelink/middleware"
)

const (
	ParamTime                = "time"
	ParamSequenceNum         = "sequenceNum"
	ParamTimeReceived        = "timeReceived"
	ParamSequenceNumReceived = "sequenceNumReceived"

	firstSequence = 111
)

// Result describes one answered AliveCheck.
type Result struct {
	Sequence     int64 // the number we sent
	PeerSequence int64 // the number the peer stamped on its answer
	Echoed       int64 // the number the peer says it received
	PeerTime     time.Time
	RoundTrip    time.Duration
}

type Checker struct {
	conn   *connection.Connection
	logger *zap.Logger
	now    func() time.Time
	seq    atomic.Int64
}

type Option func(*Checker)

func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// New registers the AliveCheck handler on conn and returns a Checker for
// sending checks to the peer.
func New(conn *connection.Connection, opts ...Option) (*Checker, error) {
	c := &Checker{conn: conn, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.seq.Store(firstSequence - 1)

	err := conn.AddHandlers(map[message.Op]middleware.HandlerFunc{
		message.AliveCheckReq: c.handleAliveCheck,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Check sends an AliveCheck and waits for the answer.
func (c *Checker) Check(ctx context.Context, auth *message.AccessAuthorization) (*Result, error) {
	sent := c.now()
	req := c.request(auth, sent)
	seq, _ := strconv.ParseInt(req.Param(ParamSequenceNum), 10, 64)

	resp, err := c.conn.Call(ctx, message.AliveCheckReq, req)
	if err != nil {
		return nil, err
	}

	p := resp.Payload
	res := &Result{Sequence: seq, RoundTrip: c.now().Sub(sent)}
	res.PeerSequence, _ = strconv.ParseInt(p.Param(ParamSequenceNum), 10, 64)
	res.Echoed, _ = strconv.ParseInt(p.Param(ParamSequenceNumReceived), 10, 64)
	res.PeerTime, _ = time.Parse(time.RFC3339Nano, p.Param(ParamTime))
	return res, nil
}

// CheckNoReply sends an AliveCheck as a notification; the peer handles it but does not answer.
func (c *Checker) CheckNoReply(auth *message.AccessAuthorization) error {
	return c.conn.Notify(message.AliveCheckReq, c.request(auth, c.now()))
}

// Monitor sends a check every interval until ctx ends or the connection is
// aborted, reporting each outcome to report. Each check gets interval to answer.
func (c *Checker) Monitor(ctx context.Context, interval time.Duration, auth *message.AccessAuthorization, report func(*Result, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.conn.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			res, err := c.Check(checkCtx, auth)
			cancel()
			if err != nil {
				c.logger.Warn("AliveCheck failed", zap.Error(err))
			}
			if report != nil {
				report(res, err)
			}
		}
	}
}

func (c *Checker) request(auth *message.AccessAuthorization, at time.Time) *message.Payload {
	p := &message.Payload{Auth: auth}
	p.SetParam(ParamTime, at.UTC().Format(time.RFC3339Nano))
	p.SetParam(ParamSequenceNum, strconv.FormatInt(c.seq.Add(1), 10))
	return p
}

func (c *Checker) handleAliveCheck(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
	resp := &message.Payload{}
	resp.SetParam(ParamTime, c.now().UTC().Format(time.RFC3339Nano))
	resp.SetParam(ParamSequenceNum, strconv.FormatInt(c.seq.Add(1), 10))
	resp.SetParam(ParamTimeReceived, env.Payload.Param(ParamTime))
	resp.SetParam(ParamSequenceNumReceived, env.Payload.Param(ParamSequenceNum))
	c.logger.Debug("AliveCheck", zap.String("sequenceNum", env.Payload.Param(ParamSequenceNum)), zap.Uint32("tag", env.Tag))
	return resp, nil
}
