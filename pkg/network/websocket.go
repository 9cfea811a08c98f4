package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game"
	"github.com/cbodonnell/herosync/pkg/game/constants"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/messages"
	"github.com/cbodonnell/herosync/pkg/state"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// PushServer streams every state event to websocket clients and accepts
// actions from them.
type PushServer struct {
	tls          *TLSConfig
	store        state.Store
	dispatcher   *game.Dispatcher
	connections  *ConnectionManager
	subscription events.Subscription
	server       *http.Server
	baseCtx      context.Context
	cancel       context.CancelFunc

	// frameLock orders game-state replies with event broadcasts so a
	// snapshot is never queued behind an event it does not contain
	frameLock sync.Mutex

	connOpts connectionOptions
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewPushServerOptions struct {
	Port       int
	TLS        *TLSConfig
	Bus        *events.Bus
	Store      state.Store
	Dispatcher *game.Dispatcher

	// The following default to the values in the constants package
	PongWait       time.Duration
	PingPeriod     time.Duration
	WriteWait      time.Duration
	RateLimit      float64
	RateBurst      int
	SendBufferSize int
}

// NewPushServer creates a new PushServer and subscribes it to every event
// on the bus.
func NewPushServer(opts NewPushServerOptions) *PushServer {
	if opts.PongWait <= 0 {
		opts.PongWait = constants.PongWait
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = constants.WriteWait
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = constants.MessageRateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = constants.MessageRateBurst
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = constants.SendBufferSize
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = game.NewDispatcher(game.NewDispatcherOptions{Store: opts.Store})
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &PushServer{
		tls:         opts.TLS,
		store:       opts.Store,
		dispatcher:  opts.Dispatcher,
		connections: NewConnectionManager(),
		baseCtx:     ctx,
		cancel:      cancel,
		connOpts: connectionOptions{
			bufferSize: opts.SendBufferSize,
			rateLimit:  rate.Limit(opts.RateLimit),
			rateBurst:  opts.RateBurst,
			pongWait:   opts.PongWait,
			pingPeriod: opts.PingPeriod,
			writeWait:  opts.WriteWait,
		},
	}
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: s.Handler(),
	}
	s.subscription = opts.Bus.SubscribeAll(s.broadcastEvent)
	return s
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler returns the router serving /ws.
func (s *PushServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.ServeWS).Methods(http.MethodGet)
	return r
}

// Connections returns the connection manager.
func (s *PushServer) Connections() *ConnectionManager {
	return s.connections
}

// Start starts the push server and blocks until it is stopped.
func (s *PushServer) Start() error {
	addr := s.server.Addr
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("Push server listening on %s with TLS", addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("Push server listening on %s", addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("Push server closed")
			return nil
		}
		return fmt.Errorf("push server error: %v", err)
	}
	return nil
}

// Stop stops accepting connections and closes the open ones. Players are
// left in the store; the presence sweep takes care of them.
func (s *PushServer) Stop(ctx context.Context) error {
	s.subscription.Unsubscribe()
	s.cancel()
	s.connections.CloseAll()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown push server: %v", err)
	}
	return nil
}

// ServeWS upgrades the request and serves the connection until it closes.
func (s *PushServer) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Failed to upgrade to WebSocket: %v", err)
		return
	}

	opts := s.connOpts
	opts.id = uuid.NewString()
	conn := newConnection(wsConn, opts)
	s.connections.Add(conn)
	log.Debug("Connection %s opened from %s", conn.ID, wsConn.RemoteAddr().String())
	defer func() {
		s.connections.Remove(conn.ID)
		log.Debug("Connection %s closed", conn.ID)
	}()

	s.sendTo(conn, messages.MessageTypeConnected, messages.ConnectedPayload{ConnectionID: conn.ID})

	if err := conn.Serve(s.baseCtx, messages.MessageBufferSize, s.handleMessage); err != nil {
		log.Error("Connection %s failed: %v", conn.ID, err)
	}
}

func (s *PushServer) handleMessage(conn *Connection, data []byte) {
	if !conn.Allow() {
		s.sendError(conn, "", "rate limit exceeded")
		return
	}

	msg, err := messages.DeserializeMessage(data)
	if err != nil {
		s.sendError(conn, "", err.Error())
		return
	}

	switch {
	case msg.Type == messages.MessageTypePing:
		s.sendTo(conn, messages.MessageTypePong, nil)
	case msg.Type == messages.MessageTypePong:
	case msg.Type == messages.MessageTypeGetGameState:
		s.sendGameState(conn)
	case messages.IsAction(msg.Type):
		s.handleAction(conn, msg)
	default:
		s.sendError(conn, msg.Type, fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

func (s *PushServer) handleAction(conn *Connection, msg *messages.Message) {
	result, err := s.dispatcher.Dispatch(msg.Type, msg.Data)
	if err != nil {
		log.Debug("Rejected %s from connection %s: %v", msg.Type, conn.ID, err)
		s.sendError(conn, msg.Type, err.Error())
		return
	}
	if msg.Type == messages.ActionFindMatch {
		s.sendTo(conn, messages.MessageTypeMatch, messages.MatchPayload{Address: result.Address, Player: result.Match})
	}
}

func (s *PushServer) sendGameState(conn *Connection) {
	s.frameLock.Lock()
	defer s.frameLock.Unlock()
	s.sendTo(conn, messages.MessageTypeGameState, s.store.Snapshot())
}

// broadcastEvent forwards a bus event to every connection. Connections that
// cannot take the frame are closed; their clients resync on reconnect.
func (s *PushServer) broadcastEvent(e events.Event) {
	msg, err := messages.NewMessage(e.Name, e.Payload)
	if err != nil {
		log.Error("Failed to build %s frame: %v", e.Name, err)
		return
	}
	frame, err := messages.SerializeMessage(msg)
	if err != nil {
		log.Error("Failed to serialize %s frame: %v", e.Name, err)
		return
	}
	s.frameLock.Lock()
	dropped := s.connections.Broadcast(frame)
	s.frameLock.Unlock()
	if dropped > 0 {
		log.Warn("Closed %d slow connections that could not take a %s frame", dropped, e.Name)
	}
}

func (s *PushServer) sendTo(conn *Connection, msgType string, data interface{}) {
	msg, err := messages.NewMessage(msgType, data)
	if err != nil {
		log.Error("Failed to build %s frame: %v", msgType, err)
		return
	}
	frame, err := messages.SerializeMessage(msg)
	if err != nil {
		log.Error("Failed to serialize %s frame: %v", msgType, err)
		return
	}
	if !conn.Send(frame) {
		log.Warn("Closing connection %s that could not take a %s frame", conn.ID, msgType)
		conn.Close()
	}
}

func (s *PushServer) sendError(conn *Connection, action, reason string) {
	s.sendTo(conn, messages.MessageTypeError, messages.ErrorPayload{Message: reason, Action: action})
}
