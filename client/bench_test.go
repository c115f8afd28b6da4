package client

import (
	"context"
	"testing"

	"spacelink/codec"
	"spacelink/features/alive"
	"spacelink/server"
)

func benchConn(b *testing.B, opts ...Option) *alive.Checker {
	b.Helper()
	svr := server.NewServer()
	svr.OnConnect(func(p *server.Peer) error {
		_, err := alive.New(p.Conn)
		return err
	})
	url := "ws://" + listen(b, svr) + "/ws"

	conn, err := Dial(context.Background(), url, opts...)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { conn.Close(context.Background()) })
	checker, err := alive.New(conn.Connection)
	if err != nil {
		b.Fatal(err)
	}
	return checker
}

// 场景1: 单 goroutine 串行调用
func BenchmarkSerialCheck(b *testing.B) {
	checker := benchConn(b)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := checker.Check(ctx, nil); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景2: 多 goroutine 共用一条连接，靠 tag 区分应答
func BenchmarkParallelCheck(b *testing.B) {
	checker := benchConn(b)
	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := checker.Check(ctx, nil); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// 场景3: JSON 编码对比
func BenchmarkSerialCheckJSON(b *testing.B) {
	checker := benchConn(b, WithCodec(codec.GetCodec(codec.CodecTypeJSON)))
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := checker.Check(ctx, nil); err != nil {
			b.Fatal(err)
		}
	}
}
