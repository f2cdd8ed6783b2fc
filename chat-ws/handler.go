package chatws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	chatcli "github.com/serverless-chat/chat-go-utils/chat-cli"
)

// API Gateway route keys served by the handler.
const (
	RouteConnect    = "$connect"
	RouteDisconnect = "$disconnect"
	RouteGetClients = "getClients"

	NicknameParam = "nickname"
)

// Handler routes API Gateway WebSocket events to the registry.
type Handler struct {
	Connections ConnectionStore
	Notifiers   NotifierFactory
	Events      EventPublisher
	Metrics     Metrics
	Logger      zerolog.Logger

	ConnTTL     time.Duration
	Concurrency int
	SendTimeout time.Duration

	// Endpoint overrides the management endpoint derived from the request,
	// which is wrong behind a custom domain.
	Endpoint string
}

// NewHandler builds a Handler from the WebSocket flags.
func NewHandler(conns ConnectionStore, notifiers NotifierFactory, logger zerolog.Logger) *Handler {
	return &Handler{
		Connections: conns,
		Notifiers:   notifiers,
		Logger:      logger,
		ConnTTL:     WSOpts.ConnTTL,
		Concurrency: WSOpts.Concurrency,
		SendTimeout: WSOpts.SendTimeout,
		Endpoint:    WSOpts.ManagementEndpoint,
	}
}

// HandleEvent routes an API Gateway WebSocket event. Broadcast failures that
// follow a join or leave are logged but don't change its response.
func (h *Handler) HandleEvent(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	route := req.RequestContext.RouteKey
	connID := req.RequestContext.ConnectionID
	logger := h.Logger.With().
		Str("connection_id", connID).
		Str("route", route).
		Logger()
	ctx = logger.WithContext(ctx)

	if h.Metrics != nil {
		defer h.Metrics.Timing(ctx, chatcli.ResponseTimeMetric, time.Now(), chatcli.Operation(route))
	}

	var op func(r *Registry) error
	switch route {
	case RouteConnect:
		op = func(r *Registry) error { return r.Join(ctx, connID, req.QueryStringParameters[NicknameParam]) }
	case RouteDisconnect:
		op = func(r *Registry) error { return r.Leave(ctx, connID) }
	case RouteGetClients:
		op = func(r *Registry) error { return r.ListPeers(ctx, connID) }
	default:
		return h.respond(ctx, logger, route, fmt.Errorf("%w: %v", ErrUnrecognizedRoute, route)), nil
	}

	err := op(h.registry(logger, h.endpoint(req)))
	return h.respond(ctx, logger, route, err), nil
}

// Roster reads the current peers, for callers outside an event.
func (h *Handler) Roster(ctx context.Context) (Roster, error) {
	return h.registry(h.Logger, h.Endpoint).Roster(ctx)
}

func (h *Handler) registry(logger zerolog.Logger, endpoint string) *Registry {
	return &Registry{
		Connections: h.Connections,
		Notifiers:   h.Notifiers,
		Events:      h.Events,
		Metrics:     h.Metrics,
		Logger:      logger,
		Endpoint:    endpoint,
		ConnTTL:     h.ConnTTL,
		Concurrency: h.Concurrency,
		SendTimeout: h.SendTimeout,
	}
}

func (h *Handler) endpoint(req events.APIGatewayWebsocketProxyRequest) string {
	if h.Endpoint != "" {
		return h.Endpoint
	}
	return fmt.Sprintf("https://%s/%s", req.RequestContext.DomainName, req.RequestContext.Stage)
}

// respond maps an operation result to a status. A broadcast failure after a
// join or leave is not that operation's failure; for getClients the delivery
// is the operation.
func (h *Handler) respond(ctx context.Context, logger zerolog.Logger, route string, err error) events.APIGatewayProxyResponse {
	var validationErr *ValidationError
	switch {
	case err == nil:
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}

	case errors.As(err, &validationErr):
		logger.Warn().Err(err).Msg("rejected request")
		if h.Metrics != nil {
			h.Metrics.Event(ctx, chatcli.RejectedJoinMetric)
		}
		return events.APIGatewayProxyResponse{StatusCode: http.StatusForbidden}

	case IsBroadcastError(err) && route != RouteGetClients:
		logger.Error().Err(err).Msg("roster broadcast incomplete")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}

	case errors.Is(err, ErrUnrecognizedRoute):
		logger.Warn().Msg("unknown route")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}

	default:
		logger.Error().Err(err).Msg("request failed")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}
	}
}
