// Package net exposes the marketplace over a framed binary TCP protocol.
// Connections are read by a worker pool; every request is funneled through
// a single engine goroutine, so all marketplace operations are globally
// serialized, and marketplace events are broadcast to every connected
// client in stream order.
package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	tomb "gopkg.in/tomb.v2"

	"bazaar/internal/market"
)

const (
	defaultNWorkers    = 10
	defaultReadTimeout = 5 * time.Minute

	// Per-connection request budget: sustained rate and burst.
	messageRate  = 20
	messageBurst = 40
)

var ErrImproperConversion = errors.New("improper type conversion")

// Observer sees the outcome of every marketplace operation served; the
// metrics collector implements it.
type Observer interface {
	ObserveOperation(op string, d time.Duration, err error)
}

// ClientSession is one connected TCP client.
type ClientSession struct {
	conn    net.Conn
	limiter *rate.Limiter
	writeMu sync.Mutex
}

func (c *ClientSession) send(r Report) error {
	payload, err := r.Serialize()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.conn, payload)
}

// ClientMessage links a parsed request to the session that sent it.
type ClientMessage struct {
	clientAddress string
	message       Message
}

type Server struct {
	address string
	port    int

	mkt      *market.Marketplace
	bus      *market.Bus
	observer Observer

	pool           *WorkerPool
	cancel         context.CancelFunc
	sessions       map[string]*ClientSession
	sessionsLock   sync.Mutex
	clientMessages chan ClientMessage
}

func New(address string, port int, mkt *market.Marketplace, bus *market.Bus) *Server {
	return &Server{
		address:        address,
		port:           port,
		mkt:            mkt,
		bus:            bus,
		pool:           NewWorkerPool(defaultNWorkers),
		sessions:       make(map[string]*ClientSession),
		clientMessages: make(chan ClientMessage, taskChanSize),
	}
}

// SetObserver installs the operation observer. Must be called before Run.
func (s *Server) SetObserver(obs Observer) {
	s.observer = obs
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

	// Broadcast every marketplace event to all connected clients.
	s.bus.Subscribe(func(env market.Envelope) {
		report, err := eventReport(env)
		if err != nil {
			log.Error().Err(err).Str("event", env.Event.Name()).Msg("unable to encode event")
			return
		}
		s.broadcast(report)
	})

	s.pool.Setup(t, s.handleConnection)

	t.Go(func() error {
		return s.engineLoop(ctx, t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			log.Info().Str("address", conn.RemoteAddr().String()).Msg("new client connected")
			s.addClientSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

// engineLoop serializes all marketplace mutations: one request at a time,
// in arrival order.
func (s *Server) engineLoop(ctx context.Context, t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case cm := <-s.clientMessages:
			report := s.dispatch(ctx, cm.message)
			s.reply(cm.clientAddress, report)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, m Message) Report {
	started := time.Now()
	var (
		op      string
		orderID market.OrderID
		err     error
	)

	switch msg := m.(type) {
	case BaseMessage:
		// Heartbeats keep the session alive and get an empty ack.
		return Report{TypeOf: AckReport, Request: Heartbeat}
	case CreateOrderMessage:
		op = "create"
		var order market.Order
		order, err = s.mkt.CreateOrder(ctx, msg.Caller, msg.AssetContract, msg.AssetID, msg.Price, msg.ExpiresAt)
		orderID = order.ID
	case CancelOrderMessage:
		op = "cancel"
		err = s.mkt.CancelOrder(ctx, msg.Caller, msg.AssetContract, msg.AssetID)
	case ExecuteOrderMessage:
		op = "execute"
		var order market.Order
		if len(msg.Fingerprint) > 0 {
			order, err = s.mkt.SafeExecuteOrder(ctx, msg.Caller, msg.AssetContract, msg.AssetID, msg.Price, msg.Fingerprint)
		} else {
			order, err = s.mkt.ExecuteOrder(ctx, msg.Caller, msg.AssetContract, msg.AssetID, msg.Price)
		}
		orderID = order.ID
	case AdminMessage:
		if msg.TypeOf == SetOwnerCut {
			op = "set_owner_cut"
			err = s.mkt.SetOwnerCutPerMillion(ctx, msg.Caller, msg.Value)
		} else {
			op = "set_publication_fee"
			err = s.mkt.SetPublicationFee(ctx, msg.Caller, msg.Value)
		}
	default:
		return Report{TypeOf: ErrorReport, Err: ErrInvalidMessageType.Error()}
	}

	if s.observer != nil {
		s.observer.ObserveOperation(op, time.Since(started), err)
	}
	if err != nil {
		log.Info().Err(err).Str("op", op).Msg("request rejected")
		return Report{TypeOf: ErrorReport, Request: m.GetType(), Err: err.Error()}
	}
	return Report{TypeOf: AckReport, Request: m.GetType(), OrderID: orderID}
}

func (s *Server) reply(clientAddress string, report Report) {
	s.sessionsLock.Lock()
	session, ok := s.sessions[clientAddress]
	s.sessionsLock.Unlock()
	if !ok {
		// Client disconnected while its request was queued.
		return
	}
	if err := session.send(report); err != nil {
		log.Error().Err(err).Str("address", clientAddress).Msg("unable to send report")
		s.deleteClientSession(clientAddress)
	}
}

func (s *Server) broadcast(report Report) {
	s.sessionsLock.Lock()
	sessions := make(map[string]*ClientSession, len(s.sessions))
	for addr, session := range s.sessions {
		sessions[addr] = session
	}
	s.sessionsLock.Unlock()

	for addr, session := range sessions {
		if err := session.send(report); err != nil {
			log.Error().Err(err).Str("address", addr).Msg("unable to broadcast report")
			s.deleteClientSession(addr)
		}
	}
}

// handleConnection is a short-lived worker method: it reads the next frame
// off the connection, parses it, and hands it to the engine loop. The
// connection is then re-queued for the next frame. A dead connection tears
// down its session. Any error returned from here is fatal to the server.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}
	addr := conn.RemoteAddr().String()

	s.sessionsLock.Lock()
	session, ok := s.sessions[addr]
	s.sessionsLock.Unlock()
	if !ok {
		return nil
	}

	if err := conn.SetReadDeadline(time.Now().Add(defaultReadTimeout)); err != nil {
		log.Error().Err(err).Str("address", addr).Msg("failed setting read deadline")
		s.dropClientSession(addr, conn)
		return nil
	}

	select {
	case <-t.Dying():
		return nil
	default:
	}

	payload, err := readFrame(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Error().Err(err).Str("address", addr).Msg("error reading from connection")
		}
		s.dropClientSession(addr, conn)
		return nil
	}

	if !session.limiter.Allow() {
		_ = session.send(Report{TypeOf: ErrorReport, Err: "rate limit exceeded"})
		s.pool.AddTask(conn)
		return nil
	}

	message, err := parseMessage(payload)
	if err != nil {
		log.Error().Err(err).Str("address", addr).Msg("error parsing message")
		_ = session.send(Report{TypeOf: ErrorReport, Err: err.Error()})
		s.pool.AddTask(conn)
		return nil
	}

	s.clientMessages <- ClientMessage{clientAddress: addr, message: message}
	s.pool.AddTask(conn)
	return nil
}

func (s *Server) addClientSession(conn net.Conn) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	s.sessions[conn.RemoteAddr().String()] = &ClientSession{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(messageRate), messageBurst),
	}
}

func (s *Server) deleteClientSession(address string) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	delete(s.sessions, address)
}

func (s *Server) dropClientSession(address string, conn net.Conn) {
	s.deleteClientSession(address)
	if err := conn.Close(); err != nil {
		log.Error().Err(err).Str("address", address).Msg("unable to close connection")
	}
}
