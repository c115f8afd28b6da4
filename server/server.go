// Package server accepts WebSocket peers and gives each one its own
// Transport and Connection, then lets setup hooks register feature handlers.
//
//	HTTP upgrade → transport.New → connection.New → setup hooks (AddHandlers) → transport.Start
//
// The server tracks every live peer so Shutdown can disconnect them and wait
// for them to finish.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"spacelink/connection"
	"spacelink/middleware"
	"spacelink/registry"
	"spacelink/transport"
)

var ErrShutdown = errors.New("server: shutting down")

// Peer is one accepted client.
type Peer struct {
	Transport *transport.Transport
	Conn      *connection.Connection
	Request   *http.Request
}

func (p *Peer) ID() string { return p.Transport.ID() }

// reject drops a peer whose transport never started. The transport has no
// receiver to abort yet, so the connection is aborted here.
func (p *Peer) reject(cause error) {
	p.Conn.Abort(cause)
	p.Transport.Disconnect()
}

// SetupFunc prepares a new peer before any frame is read, typically by
// constructing feature modules on p.Conn. An error rejects the peer.
type SetupFunc func(p *Peer) error

type Server struct {
	opts     options
	logger   *zap.Logger
	upgrader websocket.Upgrader

	middlewares []middleware.Middleware
	setups      []SetupFunc

	mu        sync.Mutex
	peers     map[string]*Peer
	httpSrv   *http.Server
	listener  net.Listener
	advertise string

	wg       sync.WaitGroup // one count per live peer
	shutdown atomic.Bool
	accepted atomic.Uint64
}

func NewServer(opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{
		opts:   o,
		logger: o.logger,
		peers:  make(map[string]*Peer),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: o.checkOrigin}
	return s
}

// Use adds a middleware to every handler of every peer. Call before Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// OnConnect adds a setup hook run for every accepted peer, in the order added.
func (s *Server) OnConnect(setup SetupFunc) {
	s.setups = append(s.setups, setup)
}

// ListenAndServe listens on the TCP address and serves until Shutdown.
func (s *Server) ListenAndServe(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts WebSocket upgrades on ln until Shutdown. It returns nil after
// an orderly Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(s.opts.path, s)
	httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrShutdown
	}
	s.listener, s.httpSrv = ln, httpSrv
	s.advertise = s.opts.advertiseAddr
	if s.advertise == "" {
		s.advertise = "ws://" + ln.Addr().String() + s.opts.path
	}
	s.mu.Unlock()

	if reg := s.opts.registry; reg != nil {
		inst := registry.ServiceInstance{Addr: s.advertise, Weight: s.opts.weight}
		if err := reg.Register(context.Background(), s.opts.serviceName, inst, s.opts.ttl); err != nil {
			ln.Close()
			return fmt.Errorf("server: register %s: %w", s.opts.serviceName, err)
		}
		s.logger.Info("Registered service", zap.String("service", s.opts.serviceName), zap.String("addr", s.advertise))
	}

	s.logger.Info("Serving", zap.String("addr", ln.Addr().String()), zap.String("path", s.opts.path))
	if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listener address once Serve has started, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the address advertised to clients once Serve has started.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertise
}

// ServeHTTP upgrades one request and runs the peer. Server can also be
// mounted on any other mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.shutdown.Load() {
		http.Error(w, ErrShutdown.Error(), http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.logger.Debug("Upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	tr := transport.New(ws, append([]transport.Option{transport.WithLogger(s.logger)}, s.opts.transport...)...)
	logger := s.logger.With(zap.String("peer", tr.ID()), zap.String("remote", tr.Name()))
	conn := connection.New(tr,
		connection.WithLogger(logger),
		connection.WithCodec(s.opts.codec),
		connection.WithMiddleware(s.middlewares...),
	)
	p := &Peer{Transport: tr, Conn: conn, Request: r}

	for _, setup := range s.setups {
		if err := setup(p); err != nil {
			logger.Warn("Peer setup failed", zap.Error(err))
			p.reject(err)
			return
		}
	}

	if !s.track(p) {
		p.reject(ErrShutdown)
		return
	}
	tr.OnDisconnect(func(*transport.Transport) { s.untrack(p) })
	if err := tr.Start(conn); err != nil {
		logger.Error("Failed to start transport", zap.Error(err))
		p.reject(err)
		return
	}
	s.accepted.Add(1)
	logger.Info("Peer connected")
}

func (s *Server) track(p *Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.peers[p.ID()] = p
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(p *Peer) {
	s.mu.Lock()
	_, ok := s.peers[p.ID()]
	delete(s.peers, p.ID())
	s.mu.Unlock()
	if ok {
		s.wg.Done()
		s.logger.Info("Peer disconnected", zap.String("peer", p.ID()), zap.NamedError("cause", p.Transport.Err()))
	}
}

// Peers returns the currently connected peers.
func (s *Server) Peers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// Accepted returns how many peers have been started since the server was created.
func (s *Server) Accepted() uint64 {
	return s.accepted.Load()
}

// Shutdown stops the server gracefully:
//  1. Deregister from the registry so clients stop picking this server
//  2. Stop accepting upgrades and close the listener
//  3. Disconnect every peer
//  4. Wait for all peers to reach Closed, up to timeout
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.mu.Lock()
	advertise := s.advertise
	s.mu.Unlock()
	if reg := s.opts.registry; reg != nil && advertise != "" {
		if err := reg.Deregister(ctx, s.opts.serviceName, advertise); err != nil {
			s.logger.Warn("Deregister failed", zap.Error(err))
		}
	}

	// The flag is set under mu so no peer can be tracked after the snapshot below.
	s.mu.Lock()
	s.shutdown.Store(true)
	httpSrv := s.httpSrv
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("HTTP shutdown", zap.Error(err))
		}
	}
	for _, p := range peers {
		p.Transport.Disconnect()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("Server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server: timeout waiting for %d peers to disconnect", len(s.Peers()))
	}
}
