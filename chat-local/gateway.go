// Package chatlocal stands in for API Gateway when running in console mode.
// It accepts WebSocket connections, turns their lifecycle and messages into
// API Gateway WebSocket events, and delivers payloads back to the sockets.
package chatlocal

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	chatws "github.com/serverless-chat/chat-go-utils/chat-ws"
)

const (
	defaultRoute = "$default"
	closeTimeout = time.Second
)

// Handler is what the gateway dispatches to, normally a *chatws.Handler.
type Handler interface {
	HandleEvent(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error)
	Roster(ctx context.Context) (chatws.Roster, error)
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// write serializes writers; gorilla allows one concurrent writer per socket.
func (c *conn) write(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Gateway tracks live sockets by connection id and implements
// chatws.NotifierFactory over them.
type Gateway struct {
	Stage  string
	logger zerolog.Logger

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn
}

func New(logger zerolog.Logger) *Gateway {
	return &Gateway{
		Stage:  "local",
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: map[string]*conn{},
	}
}

// Notifier returns the gateway itself; there is a single local endpoint.
func (g *Gateway) Notifier(string) chatws.Notifier {
	return g
}

// Send writes payload to the socket for connectionID. Unknown or broken
// sockets report chatws.ErrPeerGone, like a 410 from the management API.
func (g *Gateway) Send(ctx context.Context, connectionID string, payload []byte) error {
	c, ok := g.lookup(connectionID)
	if !ok {
		return chatws.ErrPeerGone
	}
	if err := c.write(ctx, payload); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &chatws.TransportError{ConnectionID: connectionID, Err: err}
		}
		g.remove(connectionID)
		c.ws.Close()
		return chatws.ErrPeerGone
	}
	return nil
}

// Connections returns the number of live sockets.
func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *Gateway) lookup(connectionID string) (*conn, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.conns[connectionID]
	return c, ok
}

func (g *Gateway) add(connectionID string, c *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[connectionID] = c
}

func (g *Gateway) remove(connectionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, connectionID)
}

// Routes serves WebSocket connections on / and the current roster on /peers.
func (g *Gateway) Routes(h Handler) chi.Router {
	router := chi.NewRouter()
	router.Use(
		withCORS(),
		withLogger(g.logger),
		middleware.Recoverer,
	)
	router.Get("/", g.serveWS(h))
	router.Get("/peers", g.servePeers(h))
	return router
}

func (g *Gateway) ListenAndServe(addr string, h Handler) error {
	g.logger.Info().Str("addr", addr).Msg("starting local websocket gateway")
	return http.ListenAndServe(addr, g.Routes(h))
}

func (g *Gateway) serveWS(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ws, err := g.upgrader.Upgrade(w, req, nil)
		if err != nil {
			g.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		connID := uuid.NewString()
		logger := g.logger.With().Str("connection_id", connID).Logger()
		ctx := context.WithoutCancel(req.Context())
		c := &conn{ws: ws}

		// Registered before $connect so a broadcast racing the join can reach it.
		g.add(connID, c)

		query := map[string]string{}
		for k, v := range req.URL.Query() {
			if len(v) > 0 {
				query[k] = v[0]
			}
		}
		resp := g.dispatch(ctx, h, logger, req.Host, chatws.RouteConnect, connID, query, "")
		if resp.StatusCode != http.StatusOK {
			g.remove(connID)
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, http.StatusText(resp.StatusCode))
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
			ws.Close()
			return
		}

		defer func() {
			g.remove(connID)
			ws.Close()
			g.dispatch(ctx, h, logger, req.Host, chatws.RouteDisconnect, connID, nil, "")
		}()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug().Err(err).Msg("connection closed unexpectedly")
				}
				return
			}
			g.dispatch(ctx, h, logger, req.Host, routeOf(data), connID, nil, string(data))
		}
	}
}

// routeOf mirrors the route selection expression $request.body.action.
func routeOf(body []byte) string {
	var msg struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &msg); err != nil || msg.Action == "" {
		return defaultRoute
	}
	return msg.Action
}

func (g *Gateway) dispatch(ctx context.Context, h Handler, logger zerolog.Logger, host, route, connID string, query map[string]string, body string) events.APIGatewayProxyResponse {
	req := events.APIGatewayWebsocketProxyRequest{
		Body:                  body,
		QueryStringParameters: query,
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			RouteKey:         route,
			ConnectionID:     connID,
			DomainName:       host,
			Stage:            g.Stage,
			RequestTimeEpoch: time.Now().UnixMilli(),
		},
	}
	resp, err := h.HandleEvent(ctx, req)
	if err != nil {
		logger.Error().Err(err).Str("route", route).Msg("handler failed")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}
	}
	if resp.StatusCode != http.StatusOK {
		logger.Debug().Str("route", route).Int("status", resp.StatusCode).Msg("handler rejected event")
	}
	return resp
}

func (g *Gateway) servePeers(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		roster, err := h.Roster(req.Context())
		if err != nil {
			zerolog.Ctx(req.Context()).Error().Err(err).Msg("failed to read roster")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		data, err := roster.Encode()
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func withCORS() func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	})
}

func withLogger(logger zerolog.Logger) func(handler http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := logger.WithContext(req.Context())
			handler.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
