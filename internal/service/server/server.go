package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/registry"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/presence"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/relay"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/utils/log"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type (
	HttpServer struct {
		addr     string
		origins  []string
		registry *registry.Registry
		presence *presence.Service
		relay    *relay.Relay
	}

	// wsConn is the transport handle stored in the registry. Writes are
	// serialized; gorilla conns do not allow concurrent writers.
	wsConn struct {
		mu   sync.Mutex
		conn *websocket.Conn
	}
)

func (c *wsConn) Emit(kind model.EventKind, data any) error {
	frame, err := model.NewFrame(kind, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// NewHttpServer builds the transport layer. origins restricts websocket
// handshakes; an empty list allows all.
func NewHttpServer(addr string, origins []string, reg *registry.Registry, presenceSvc *presence.Service, relaySvc *relay.Relay) *HttpServer {
	return &HttpServer{
		addr:     addr,
		origins:  origins,
		registry: reg,
		presence: presenceSvc,
		relay:    relaySvc,
	}
}

func (s *HttpServer) Run() error {
	log.Info("listening", zap.String("addr", s.addr))
	return http.ListenAndServe(s.addr, s.Router())
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/init", s.HandleInitWS()).Methods(http.MethodGet)
	r.HandleFunc("/message", s.HandleMessage()).Methods(http.MethodPost)
	r.HandleFunc("/share-public-key", s.HandleSharePublicKey()).Methods(http.MethodPost)
	r.HandleFunc("/get-public-key", s.HandleGetPublicKey()).Methods(http.MethodGet)
	r.HandleFunc("/get-group-public-keys", s.HandleGetGroupPublicKeys()).Methods(http.MethodGet)
	r.HandleFunc("/get-users-in-channel", s.HandleUsersInChannel()).Methods(http.MethodGet)
	r.HandleFunc("/channel-info", s.HandleChannelInfo()).Methods(http.MethodGet)

	return r
}

func (s *HttpServer) HandleInitWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin(s.origins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "Failed to upgrade", http.StatusInternalServerError)
			return
		}

		connID := uuid.NewString()
		go s.processWSMessages(connID, &wsConn{conn: conn})
	}
}

// checkOrigin admits browsers from the configured origins. Requests
// without an Origin header (non-browser clients) always pass.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// processWSMessages is the per-connection read loop. Events are handled to
// completion in arrival order; the transport close triggers the leave path.
func (s *HttpServer) processWSMessages(connID string, wc *wsConn) {
	ctx := context.Background()

	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			log.Debug("web socket closed", zap.String("conn", connID), zap.Error(err))
			s.presence.Disconnect(ctx, connID)
			wc.conn.Close()
			break
		}

		var frame model.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Error("unmarshal frame failed", zap.Error(err))
			continue
		}

		s.dispatch(ctx, connID, wc, &frame)
	}
}

func (s *HttpServer) dispatch(ctx context.Context, connID string, wc *wsConn, frame *model.Frame) {
	switch frame.Event {
	case model.EventChatJoin:
		var p model.ChatJoinPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			log.Error("bad chat-join payload", zap.Error(err))
			return
		}
		if err := s.presence.JoinPrivate(ctx, connID, wc, &p); err != nil {
			log.Info("chat-join rejected", zap.String("channel", p.ChannelID), zap.Error(err))
		}

	case model.EventGroupJoin:
		var p model.GroupJoinPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			log.Error("bad group-join payload", zap.Error(err))
			return
		}
		if err := s.presence.JoinGroup(ctx, connID, wc, &p); err != nil {
			log.Info("group-join rejected", zap.String("channel", p.ChannelID), zap.Error(err))
		}

	case model.EventReceived:
		var p model.ReceivedPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			log.Error("bad received payload", zap.Error(err))
			return
		}
		s.presence.Received(&p)

	case model.EventWebRTCSession:
		var sig model.SessionSignal
		if err := json.Unmarshal(frame.Data, &sig); err != nil {
			log.Error("bad signal payload", zap.Error(err))
			return
		}
		s.presence.ForwardSignal(&sig)

	default:
		log.Debug("unknown event", zap.String("event", string(frame.Event)))
	}
}
