package transport

import (
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recorder struct {
	mu      sync.Mutex
	frames  [][]byte
	got     chan []byte
	aborts  atomic.Int32
	aborted chan error
}

func newRecorder() *recorder {
	return &recorder{got: make(chan []byte, 1024), aborted: make(chan error, 4)}
}

func (r *recorder) Receive(frame []byte) {
	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.mu.Unlock()
	r.got <- frame
}

func (r *recorder) Abort(err error) {
	r.aborts.Add(1)
	r.aborted <- err
}

func (r *recorder) waitFrame(t *testing.T) []byte {
	t.Helper()
	select {
	case f := <-r.got:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func (r *recorder) waitAbort(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.aborted:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for abort")
		return nil
	}
}

// echo 类型的接收者：收到什么就原样发回去
type echoReceiver struct {
	t *Transport
	*recorder
}

func (e *echoReceiver) Receive(frame []byte) {
	e.t.Send(frame)
	e.recorder.Receive(frame)
}

var upgrader = websocket.Upgrader{}

// startServer 起一个 httptest 服务端，每个连接交给 setup 构建 Transport
func startServer(t *testing.T, setup func(tr *Transport)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		setup(New(ws, WithName("server")))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return ws
}

func waitState(t *testing.T, tr *Transport, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for tr.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expect state %v, got %v", want, tr.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTransportEcho(t *testing.T) {
	url := startServer(t, func(tr *Transport) {
		tr.Start(&echoReceiver{t: tr, recorder: newRecorder()})
	})

	rec := newRecorder()
	client := New(dial(t, url))
	if err := client.Start(rec); err != nil {
		t.Fatal(err)
	}
	defer client.Disconnect()

	client.Send([]byte("hello"))
	if got := string(rec.waitFrame(t)); got != "hello" {
		t.Fatalf("expect 'hello', got '%s'", got)
	}

	st := client.Stats()
	if st.FramesIn != 1 || st.BytesIn != 5 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

// 测试发送顺序：一个 transport 上连续 Send 的帧，对端按同样顺序收到
func TestTransportFIFO(t *testing.T) {
	const n = 500
	serverRec := newRecorder()
	url := startServer(t, func(tr *Transport) { tr.Start(serverRec) })

	client := New(dial(t, url))
	if err := client.Start(newRecorder()); err != nil {
		t.Fatal(err)
	}
	defer client.Disconnect()

	for i := 0; i < n; i++ {
		frame := make([]byte, 4)
		binary.BigEndian.PutUint32(frame, uint32(i))
		client.Send(frame)
	}

	for i := 0; i < n; i++ {
		got := binary.BigEndian.Uint32(serverRec.waitFrame(t))
		if got != uint32(i) {
			t.Fatalf("frame %d arrived at position %d", got, i)
		}
	}
}

func TestTransportDropsTextFrames(t *testing.T) {
	serverRec := newRecorder()
	server := make(chan *Transport, 1)
	url := startServer(t, func(tr *Transport) {
		server <- tr
		tr.Start(serverRec)
	})

	ws := dial(t, url)
	defer ws.Close()
	if err := ws.WriteMessage(websocket.TextMessage, []byte("not binary")); err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte("binary")); err != nil {
		t.Fatal(err)
	}

	if got := string(serverRec.waitFrame(t)); got != "binary" {
		t.Fatalf("expect only the binary frame, got '%s'", got)
	}
	tr := <-server
	if tr.State() != StateOpen {
		t.Fatalf("expect transport to stay open, got %v", tr.State())
	}
	if tr.Stats().Dropped != 1 {
		t.Fatalf("expect one dropped frame, got %d", tr.Stats().Dropped)
	}
}

func TestTransportDisconnect(t *testing.T) {
	serverRec := newRecorder()
	server := make(chan *Transport, 1)
	url := startServer(t, func(tr *Transport) {
		server <- tr
		tr.Start(serverRec)
	})

	rec := newRecorder()
	client := New(dial(t, url))
	var fired atomic.Int32
	client.OnDisconnect(func(*Transport) { fired.Add(1) })
	if err := client.Start(rec); err != nil {
		t.Fatal(err)
	}

	client.Send([]byte("last words"))
	client.Disconnect()
	client.Disconnect()

	// 排队中的帧要先发出去，再关闭
	if got := string(serverRec.waitFrame(t)); got != "last words" {
		t.Fatalf("expect queued frame before close, got '%s'", got)
	}
	if err := rec.waitAbort(t); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
	<-client.Done()
	if client.State() != StateClosed {
		t.Fatalf("expect Closed, got %v", client.State())
	}
	if fired.Load() != 1 {
		t.Fatalf("expect OnDisconnect once, got %d", fired.Load())
	}

	// 对端收到正常关闭
	if err := serverRec.waitAbort(t); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect server side ErrClosed, got %v", err)
	}
	waitState(t, <-server, StateClosed)

	client.Send([]byte("too late"))
	if client.Stats().Dropped != 1 {
		t.Fatalf("expect send after close to be dropped, got %+v", client.Stats())
	}
	if rec.aborts.Load() != 1 {
		t.Fatalf("expect exactly one abort, got %d", rec.aborts.Load())
	}

	late := make(chan struct{})
	client.OnDisconnect(func(*Transport) { close(late) })
	select {
	case <-late:
	case <-time.After(time.Second):
		t.Fatal("listener registered after close should run immediately")
	}
}

func TestTransportFault(t *testing.T) {
	url := startServer(t, func(tr *Transport) {
		// 直接掐断底层连接，不发 close frame
		tr.sock.Close()
	})

	rec := newRecorder()
	client := New(dial(t, url))
	if err := client.Start(rec); err != nil {
		t.Fatal(err)
	}

	err := rec.waitAbort(t)
	if err == nil || errors.Is(err, ErrClosed) {
		t.Fatalf("expect a fault, got %v", err)
	}
	<-client.Done()
	if client.State() != StateClosed {
		t.Fatalf("expect Closed after fault, got %v", client.State())
	}
	if !errors.Is(client.Err(), err) {
		t.Fatalf("expect Err to report the fault, got %v", client.Err())
	}
}

func TestTransportLifecycleGuards(t *testing.T) {
	url := startServer(t, func(tr *Transport) { tr.Start(newRecorder()) })

	idle := New(dial(t, url))
	idle.Disconnect()
	<-idle.Done()
	if idle.State() != StateClosed {
		t.Fatalf("expect Closed, got %v", idle.State())
	}
	if err := idle.Start(newRecorder()); !errors.Is(err, ErrNotInitializing) {
		t.Fatalf("expect ErrNotInitializing, got %v", err)
	}

	live := New(dial(t, url))
	if err := live.Start(newRecorder()); err != nil {
		t.Fatal(err)
	}
	defer live.Disconnect()
	if err := live.Start(newRecorder()); !errors.Is(err, ErrNotInitializing) {
		t.Fatalf("expect ErrNotInitializing on second Start, got %v", err)
	}
	if live.State() != StateOpen {
		t.Fatalf("second Start must not disturb an open transport, got %v", live.State())
	}
}

func TestStateString(t *testing.T) {
	if StateClosing.String() != "Closing" || State(99).String() != "Unknown" {
		t.Fatalf("unexpected state names")
	}
}
