package alive

import (
	"context"
	"testing"
	"time"

	"spacelink/connection"
	"spacelink/message"
)

// pipe 把一端的 Send 直接投递给另一端的 Receive（单 goroutine，保持顺序）
type pipe struct {
	frames chan []byte
	done   chan struct{}
}

func (p *pipe) Send(frame []byte) {
	select {
	case p.frames <- frame:
	case <-p.done:
	}
}

func (p *pipe) Disconnect() {}

func connect(t *testing.T) (a, b *connection.Connection) {
	t.Helper()
	pa := &pipe{frames: make(chan []byte, 256), done: make(chan struct{})}
	pb := &pipe{frames: make(chan []byte, 256), done: make(chan struct{})}
	a, b = connection.New(pa), connection.New(pb)
	pump := func(p *pipe, to *connection.Connection) {
		for {
			select {
			case f := <-p.frames:
				to.Receive(f)
			case <-p.done:
				return
			}
		}
	}
	go pump(pa, b)
	go pump(pb, a)
	t.Cleanup(func() { close(pa.done); close(pb.done) })
	return a, b
}

func TestCheck(t *testing.T) {
	a, b := connect(t)
	client, err := New(a)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(b); err != nil {
		t.Fatal(err)
	}

	auth := &message.AccessAuthorization{Token: "t"}
	for i := int64(0); i < 3; i++ {
		res, err := client.Check(context.Background(), auth)
		if err != nil {
			t.Fatalf("check %d failed: %v", i, err)
		}
		if res.Sequence != firstSequence+i {
			t.Fatalf("expect sequence %d, got %d", firstSequence+i, res.Sequence)
		}
		if res.Echoed != res.Sequence {
			t.Fatalf("peer echoed %d for %d", res.Echoed, res.Sequence)
		}
		if res.PeerSequence != firstSequence+i {
			t.Fatalf("expect peer sequence %d, got %d", firstSequence+i, res.PeerSequence)
		}
		if res.PeerTime.IsZero() {
			t.Fatal("expect peer time to parse")
		}
	}
}

func TestCheckNoReply(t *testing.T) {
	a, b := connect(t)
	client, _ := New(a)
	New(b)

	if err := client.CheckNoReply(nil); err != nil {
		t.Fatal(err)
	}
	// 之后的正常 check 依然可用，对端已经消费了一个序号
	res, err := client.Check(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.PeerSequence != firstSequence+1 {
		t.Fatalf("expect peer to have answered once before, got sequence %d", res.PeerSequence)
	}
	if a.Stats().Unmatched != 0 {
		t.Fatalf("notify must not produce a response, stats %+v", a.Stats())
	}
}

func TestHandlerEchoesRequest(t *testing.T) {
	a, _ := connect(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c, _ := New(a, WithClock(func() time.Time { return fixed }))

	req := &message.Payload{}
	req.SetParam(ParamTime, "then")
	req.SetParam(ParamSequenceNum, "42")
	resp, err := c.handleAliveCheck(context.Background(), &message.Envelope{Op: message.AliveCheckReq, Tag: 1, Payload: req})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Param(ParamTimeReceived) != "then" || resp.Param(ParamSequenceNumReceived) != "42" {
		t.Fatalf("expect request echoed, got %v", resp.Params)
	}
	if resp.Param(ParamTime) != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("expect own time stamped, got %s", resp.Param(ParamTime))
	}
}

func TestMonitorStopsOnAbort(t *testing.T) {
	a, b := connect(t)
	client, _ := New(a)
	New(b)

	results := make(chan error, 16)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		client.Monitor(context.Background(), 10*time.Millisecond, nil, func(r *Result, err error) { results <- err })
	}()

	if err := <-results; err != nil {
		t.Fatalf("first monitored check failed: %v", err)
	}
	a.Abort(context.Canceled)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after abort")
	}
}
