// Package session implements session management between a client and a space server.
//
// OpenSession is the first meaningful request on a new connection. The server
// authenticates it through an auth.Authenticator, answers, and then starts the
// Worker for that session in the background. CloseSession is answered first and
// then the connection is torn down.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spacelink/auth"
	"spacelink/connection"
	"spacelink/message"
	"spacelink/middleware"
)

const PropSessionID = "sessionId"

var (
	ErrSessionOpen  = errors.New("session already open")
	ErrNoSession    = errors.New("no open session")
	errUnauthorized = message.NewException(auth.ErrUnauthorized.Error(), nil)
)

// Session is one authenticated conversation over a connection.
type Session struct {
	ID       string
	Identity auth.Identity
	Props    map[string]string
	Opened   time.Time
	Conn     *connection.Connection

	mu     sync.Mutex
	camera map[string]string
}

// Camera returns the last camera view the peer reported.
func (s *Session) Camera() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.camera))
	for k, v := range s.camera {
		out[k] = v
	}
	return out
}

// Worker drives a session once it is open. OpenSession runs on its own
// goroutine; ctx ends when the session closes or the connection is aborted.
type Worker interface {
	OpenSession(ctx context.Context, s *Session) error
	CloseSession(s *Session, reason string)
}

// Connector is implemented by workers that accept MakeConnection requests,
// asking this side to open a further connection described by params.
type Connector interface {
	MakeConnection(ctx context.Context, s *Session, params map[string]string) (map[string]string, error)
}

type SpaceServer struct {
	conn   *connection.Connection
	auth   auth.Authenticator
	worker Worker
	logger *zap.Logger

	mu      sync.Mutex
	session *Session
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*SpaceServer)

func WithAuthenticator(a auth.Authenticator) Option {
	return func(s *SpaceServer) { s.auth = a }
}

func WithWorker(w Worker) Option {
	return func(s *SpaceServer) { s.worker = w }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *SpaceServer) { s.logger = l }
}

// NewSpaceServer registers the session handlers on conn.
func NewSpaceServer(conn *connection.Connection, opts ...Option) (*SpaceServer, error) {
	s := &SpaceServer{conn: conn, auth: auth.AllowAll(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	handlers := map[message.Op]middleware.HandlerFunc{
		message.OpenSessionReq:  s.openSession,
		message.CloseSessionReq: s.closeSession,
		message.CameraViewReq:   s.cameraView,
	}
	if c, ok := s.worker.(Connector); ok {
		handlers[message.MakeConnectionReq] = s.makeConnection(c)
	}
	if err := conn.AddHandlers(handlers); err != nil {
		return nil, err
	}

	go func() {
		<-conn.Done()
		s.end("connection aborted")
	}()
	return s, nil
}

// Session returns the open session, or nil.
func (s *SpaceServer) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Wait blocks until every worker goroutine started by this server has returned.
func (s *SpaceServer) Wait() {
	s.wg.Wait()
}

func (s *SpaceServer) openSession(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
	id, err := s.auth.Authenticate(ctx, env.Payload.Token())
	if err != nil {
		s.logger.Info("OpenSession rejected", zap.Error(err))
		return nil, errUnauthorized
	}

	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		return nil, message.NewException(ErrSessionOpen.Error(), map[string]string{PropSessionID: s.session.ID})
	}
	sess := &Session{
		ID:       uuid.NewString(),
		Identity: id,
		Props:    env.Payload.Props,
		Opened:   time.Now(),
		Conn:     s.conn,
	}
	// The worker outlives this handler, so its context hangs off the session, not ctx.
	wctx, cancel := context.WithCancel(context.Background())
	s.session, s.cancel = sess, cancel
	s.mu.Unlock()

	s.logger.Info("Session opened", zap.String("session", sess.ID), zap.String("user", id.User))
	if s.worker != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.worker.OpenSession(wctx, sess); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("Session worker failed", zap.String("session", sess.ID), zap.Error(err))
			}
		}()
	}

	return &message.Payload{Props: map[string]string{PropSessionID: sess.ID}}, nil
}

func (s *SpaceServer) closeSession(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
	reason := env.Payload.Reason
	s.logger.Info("CloseSession", zap.String("reason", reason))
	connection.AfterReply(ctx, func() {
		s.end(reason)
		s.conn.Disconnect()
	})
	return &message.Payload{}, nil
}

func (s *SpaceServer) cameraView(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
	sess := s.Session()
	if sess == nil {
		return nil, message.NewException(ErrNoSession.Error(), nil)
	}
	sess.mu.Lock()
	sess.camera = env.Payload.Props
	sess.mu.Unlock()
	return &message.Payload{}, nil
}

func (s *SpaceServer) makeConnection(c Connector) middleware.HandlerFunc {
	return func(ctx context.Context, env *message.Envelope) (*message.Payload, error) {
		sess := s.Session()
		if sess == nil {
			return nil, message.NewException(ErrNoSession.Error(), nil)
		}
		props, err := c.MakeConnection(ctx, sess, env.Payload.Params)
		if err != nil {
			return nil, err
		}
		return &message.Payload{Props: props}, nil
	}
}

// end closes the open session, if any, exactly once.
func (s *SpaceServer) end(reason string) {
	s.mu.Lock()
	sess, cancel := s.session, s.cancel
	s.session, s.cancel = nil, nil
	s.mu.Unlock()
	if sess == nil {
		return
	}
	if s.worker != nil {
		s.worker.CloseSession(sess, reason)
	}
	cancel()
	s.logger.Info("Session closed", zap.String("session", sess.ID), zap.String("reason", reason))
}
