package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"spacelink/codec"
	"spacelink/connection"
	"spacelink/features/alive"
	"spacelink/loadbalance"
	"spacelink/message"
	"spacelink/registry"
	"spacelink/server"
)

func startServer(t *testing.T, opts ...server.Option) (*server.Server, string) {
	t.Helper()
	svr := server.NewServer(opts...)
	svr.OnConnect(func(p *server.Peer) error {
		_, err := alive.New(p.Conn)
		return err
	})
	return svr, "ws://" + listen(t, svr) + "/ws"
}

func listen(tb testing.TB, svr *server.Server) string {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatal(err)
	}
	go svr.Serve(ln)
	tb.Cleanup(func() { svr.Shutdown(2 * time.Second) })
	return ln.Addr().String()
}

func TestDial(t *testing.T) {
	_, url := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var setupRan bool
	conn, err := Dial(ctx, url, WithSetup(func(c *Conn) error {
		setupRan = true
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !setupRan {
		t.Fatal("expect setup to run before start")
	}

	checker, err := alive.New(conn.Connection)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := checker.Check(ctx, nil); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if err := conn.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// 服务端用 JSON 编码应答，客户端用默认编码也能解开：codec 字节在帧头里
func TestDialMixedCodecs(t *testing.T) {
	_, url := startServer(t, server.WithCodec(codec.GetCodec(codec.CodecTypeJSON)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(ctx)
	checker, _ := alive.New(conn.Connection)
	if _, err := checker.Check(ctx, nil); err != nil {
		t.Fatalf("check failed: %v", err)
	}
}

func TestDialSetupError(t *testing.T) {
	_, url := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	boom := errors.New("boom")
	built := make(chan *Conn, 1)
	pending := make(chan error, 1)
	_, err := Dial(ctx, url, WithSetup(func(c *Conn) error {
		go func() {
			_, err := c.Call(context.Background(), message.AliveCheckReq, nil)
			pending <- err
		}()
		built <- c
		return boom
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("expect setup error, got %v", err)
	}

	// 被丢弃的 Conn 不能留下挂起的调用
	c := <-built
	select {
	case <-c.Connection.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("expect connection aborted after setup failure")
	}
	select {
	case err := <-pending:
		if !errors.Is(err, connection.ErrConnectionAborted) {
			t.Fatalf("expect ErrConnectionAborted, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("call made during setup was left pending")
	}
}

func TestClientDiscovery(t *testing.T) {
	_, url := startServer(t)
	reg := registry.NewMemoryRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cli := NewClient(reg, &loadbalance.RoundRobinBalancer{}, "space")
	if _, err := cli.Dial(ctx, ""); !errors.Is(err, registry.ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}

	// 一个死地址 + 一个活地址：死的被跳过
	reg.Register(ctx, "space", registry.ServiceInstance{Addr: "ws://127.0.0.1:1/ws", Weight: 1}, 10)
	reg.Register(ctx, "space", registry.ServiceInstance{Addr: url, Weight: 1}, 10)

	for i := 0; i < 2; i++ {
		conn, err := cli.Dial(ctx, "user-1")
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		if conn.Addr != url {
			t.Fatalf("expect live instance, got %s", conn.Addr)
		}
		conn.Close(ctx)
	}
}
