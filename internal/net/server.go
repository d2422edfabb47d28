package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"fenrir/internal/common"
	"fenrir/internal/engine"
	"fenrir/internal/utils"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	tomb "gopkg.in/tomb.v2"
)

const (
	MaxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 30 * time.Second

	// defaultRateLimit caps each session to this many messages per second,
	// per SPEC_FULL.md's per-session rate limiting, with a burst allowance
	// wide enough for a client replaying a batch of cancels after a
	// reconnect.
	defaultRateLimit = 50
	defaultBurst     = 100
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

// ClientSession tracks one long-lived TCP connection. It starts identified
// only by its remote address; once the first message carrying a Username
// arrives, sessionByUser is populated so a later trade report addressed to
// that username (which may arrive on a different goroutine handling the
// counterparty's own connection) can find it.
type ClientSession struct {
	conn     net.Conn
	username string
	limiter  *rate.Limiter
}

// ClientMessage links a decoded message to the session that sent it.
type ClientMessage struct {
	addr    string
	message Message
}

// Engine is the subset of engine.Engine the gateway drives. Kept as an
// interface, in the teacher's own style, so tests can substitute a fake.
type Engine interface {
	SubmitOrder(req engine.SubmitRequest, replaying bool) (*common.Order, []common.Trade, error)
	CancelOrder(symbol string, id common.OrderID, user string, replaying bool) (*common.Order, error)
	ModifyOrder(symbol string, id common.OrderID, user string, newPrice *common.Price, newQty *float64, replaying bool) (bool, error)
	OpenPosition(symbol, user string, size float64, price common.Price, replaying bool) (realized, marginUsed float64, err error)
	ClosePosition(symbol, user string, size float64, price common.Price, replaying bool) (realized, marginUsed float64, err error)
}

type Server struct {
	address string
	port    int
	engine  Engine
	pool    utils.WorkerPool
	cancel  context.CancelFunc

	sessionsLock  sync.RWMutex
	sessionsByAddr map[string]*ClientSession
	sessionsByUser map[string]*ClientSession

	clientMessages chan ClientMessage
}

func New(address string, port int, eng Engine) *Server {
	return &Server{
		address:        address,
		port:           port,
		engine:         eng,
		pool:           utils.NewWorkerPool(defaultNWorkers),
		sessionsByAddr: make(map[string]*ClientSession),
		sessionsByUser: make(map[string]*ClientSession),
		clientMessages: make(chan ClientMessage, 64),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	s.cancel()
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			log.Info().Str("address", conn.RemoteAddr().String()).Msg("new client added")
			s.addClientSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

// PublishTrade implements engine.Publisher, reporting each leg of trade to
// whichever of maker/taker currently holds a session, by username rather
// than by the connection that happened to submit the triggering order.
func (s *Server) PublishTrade(trade common.Trade) {
	s.reportTradeLeg(trade, trade.TakerSide.Opposite(), trade.MakerOrderID, trade.MakerUser, trade.TakerUser)
	s.reportTradeLeg(trade, trade.TakerSide, trade.TakerOrderID, trade.TakerUser, trade.MakerUser)
}

func (s *Server) reportTradeLeg(trade common.Trade, side common.Side, orderID common.OrderID, user, counterparty string) {
	s.sessionsLock.RLock()
	session, ok := s.sessionsByUser[user]
	s.sessionsLock.RUnlock()
	if !ok {
		return
	}
	if _, err := session.conn.Write(tradeReport(trade, side, orderID, counterparty)); err != nil {
		log.Error().Err(err).Str("user", user).Msg("unable to send trade report")
		s.deleteClientSession(session)
	}
}

// PublishReject implements engine.Publisher.
func (s *Server) PublishReject(symbol, user, reason string) {
	s.sessionsLock.RLock()
	session, ok := s.sessionsByUser[user]
	s.sessionsLock.RUnlock()
	if !ok {
		return
	}
	if _, err := session.conn.Write(errorReport(symbol, errors.New(reason))); err != nil {
		log.Error().Err(err).Str("user", user).Msg("unable to send reject report")
		s.deleteClientSession(session)
	}
}

func (s *Server) reportError(addr string, err error) {
	s.sessionsLock.RLock()
	session, ok := s.sessionsByAddr[addr]
	s.sessionsLock.RUnlock()
	if !ok {
		return
	}
	if _, werr := session.conn.Write(errorReport("", err)); werr != nil {
		log.Error().Err(werr).Str("address", addr).Msg("unable to send error report")
	}
}

func (s *Server) reportAck(addr, symbol string, orderID common.OrderID) {
	s.sessionsLock.RLock()
	session, ok := s.sessionsByAddr[addr]
	s.sessionsLock.RUnlock()
	if !ok {
		return
	}
	if _, err := session.conn.Write(ackReport(symbol, orderID)); err != nil {
		log.Error().Err(err).Str("address", addr).Msg("unable to send ack report")
	}
}

func (s *Server) reportPosition(addr, symbol string, realized, marginUsed float64) {
	s.sessionsLock.RLock()
	session, ok := s.sessionsByAddr[addr]
	s.sessionsLock.RUnlock()
	if !ok {
		return
	}
	if _, err := session.conn.Write(positionReport(symbol, realized, marginUsed)); err != nil {
		log.Error().Err(err).Str("address", addr).Msg("unable to send position report")
	}
}

// sessionHandler drains decoded messages handed off by the worker pool and
// dispatches each to the engine.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.clientMessages:
			if err := s.handleMessage(msg); err != nil {
				log.Error().Err(err).Str("address", msg.addr).Msg("error handling message")
				s.reportError(msg.addr, err)
			}
		}
	}
}

func (s *Server) handleMessage(msg ClientMessage) error {
	switch m := msg.message.(type) {
	case NewOrderMessage:
		s.bindUsername(msg.addr, m.Username)
		if !s.allow(msg.addr) {
			return ErrRateLimited
		}
		_, _, err := s.engine.SubmitOrder(m.Request(), false)
		if err != nil {
			return err
		}
	case CancelOrderMessage:
		s.bindUsername(msg.addr, m.Username)
		if !s.allow(msg.addr) {
			return ErrRateLimited
		}
		if _, err := s.engine.CancelOrder(m.Symbol, m.OrderID, m.Username, false); err != nil {
			return err
		}
		s.reportAck(msg.addr, m.Symbol, m.OrderID)
	case ModifyOrderMessage:
		s.bindUsername(msg.addr, m.Username)
		if !s.allow(msg.addr) {
			return ErrRateLimited
		}
		var newPrice *common.Price
		var newQty *float64
		if m.HasPrice {
			newPrice = &m.NewPrice
		}
		if m.HasQty {
			newQty = &m.NewQty
		}
		if _, err := s.engine.ModifyOrder(m.Symbol, m.OrderID, m.Username, newPrice, newQty, false); err != nil {
			return err
		}
		s.reportAck(msg.addr, m.Symbol, m.OrderID)
	case PositionMessage:
		s.bindUsername(msg.addr, m.Username)
		if !s.allow(msg.addr) {
			return ErrRateLimited
		}
		var realized, marginUsed float64
		var err error
		switch m.GetType() {
		case OpenPosition:
			realized, marginUsed, err = s.engine.OpenPosition(m.Symbol, m.Username, m.Size, m.Price, false)
		case ClosePosition:
			realized, marginUsed, err = s.engine.ClosePosition(m.Symbol, m.Username, m.Size, m.Price, false)
		default:
			return ErrInvalidMessageType
		}
		if err != nil {
			return err
		}
		s.reportPosition(msg.addr, m.Symbol, realized, marginUsed)
	case BaseMessage:
		if m.GetType() != LogBook {
			return ErrInvalidMessageType
		}
		// LogBook is accepted and ignored: no depth is fetched or sent
		// back, which keeps Server free of a direct *engine.Engine
		// dependency.
	default:
		return ErrInvalidMessageType
	}
	return nil
}

func (s *Server) bindUsername(addr, username string) {
	if username == "" {
		return
	}
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	session, ok := s.sessionsByAddr[addr]
	if !ok {
		return
	}
	if session.username == username {
		return
	}
	session.username = username
	s.sessionsByUser[username] = session
}

func (s *Server) allow(addr string) bool {
	s.sessionsLock.RLock()
	session, ok := s.sessionsByAddr[addr]
	s.sessionsLock.RUnlock()
	if !ok {
		return true
	}
	return session.limiter.Allow()
}

// handleConnection is a short-lived worker method which reads the next
// message off the connection, decodes it, and hands it to sessionHandler.
// If the connection dies, its session is cleaned up. Any error returned
// from here is fatal to the whole pool, per tomb's semantics, so only
// genuinely unrecoverable conditions propagate.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	addr := conn.RemoteAddr().String()

	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().Str("address", addr).Err(err).Msg("failed setting deadline for connection")
		conn.Close()
		s.deleteClientSessionByAddr(addr)
		return nil
	}

	buffer := make([]byte, MaxRecvSize)
	select {
	case <-t.Dying():
		conn.Close()
		return nil
	default:
		n, err := conn.Read(buffer)
		if err != nil {
			conn.Close()
			s.deleteClientSessionByAddr(addr)
			return nil
		}

		message, err := parseMessage(buffer[:n])
		if err != nil {
			log.Error().Err(err).Str("address", addr).Msg("error parsing message")
			s.reportError(addr, err)
			s.pool.AddTask(conn)
			return nil
		}

		s.clientMessages <- ClientMessage{addr: addr, message: message}
		s.pool.AddTask(conn)
	}
	return nil
}

func (s *Server) addClientSession(conn net.Conn) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	s.sessionsByAddr[conn.RemoteAddr().String()] = &ClientSession{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}
}

func (s *Server) deleteClientSessionByAddr(addr string) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	session, ok := s.sessionsByAddr[addr]
	if !ok {
		return
	}
	delete(s.sessionsByAddr, addr)
	if session.username != "" {
		delete(s.sessionsByUser, session.username)
	}
}

func (s *Server) deleteClientSession(session *ClientSession) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	delete(s.sessionsByAddr, session.conn.RemoteAddr().String())
	if session.username != "" {
		delete(s.sessionsByUser, session.username)
	}
}
