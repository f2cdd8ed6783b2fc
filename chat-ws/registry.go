// Package chatws keeps the roster of connected chat peers and pushes it to
// every peer when someone joins or leaves. Connection records live in an
// external ConnectionStore; nothing is cached between invocations.
package chatws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	chatcli "github.com/serverless-chat/chat-go-utils/chat-cli"
	"github.com/serverless-chat/chat-go-utils/chat-ws/connectiondao"
	"github.com/serverless-chat/chat-go-utils/chat-ws/publish"
)

const (
	DefaultConnTTL     = 2 * time.Hour
	DefaultConcurrency = 50
	DefaultSendTimeout = 5 * time.Second

	// RosterTopic is the topic of roster change events.
	RosterTopic = "roster"
)

// ConnectionStore holds one record per active connection.
type ConnectionStore interface {
	Put(ctx context.Context, conn connectiondao.Connection) error
	Delete(ctx context.Context, connectionID string) error
	Scan(ctx context.Context) ([]connectiondao.Connection, error)
}

// EventPublisher receives roster change events.
type EventPublisher interface {
	Send(ctx context.Context, topic string, event publish.Event) error
}

// Metrics is the subset of chatcli.Metrics the registry reports to.
type Metrics interface {
	Event(ctx context.Context, name chatcli.MetricName, dimensions ...map[chatcli.DimensionName]string)
	Timing(ctx context.Context, name chatcli.MetricName, start time.Time, dimensions ...map[chatcli.DimensionName]string)
	Gauge(ctx context.Context, name chatcli.MetricName, value float64, dimensions ...map[chatcli.DimensionName]string)
}

// Registry implements join, leave and list for one invocation. Events and
// Metrics are optional.
type Registry struct {
	Connections ConnectionStore
	Notifiers   NotifierFactory
	Events      EventPublisher
	Metrics     Metrics
	Logger      zerolog.Logger

	Endpoint    string        // management endpoint stored with new connections and used for records without one
	ConnTTL     time.Duration // record expiry backstop (default 2 hours)
	Concurrency int           // max concurrent deliveries per fanout (default 50)
	SendTimeout time.Duration // per delivery timeout (default 5s, negative disables)
}

// Join records connectionID under nickname and sends the updated roster to
// every other peer. A blank nickname is rejected; any other is stored as given.
func (r *Registry) Join(ctx context.Context, connectionID, nickname string) error {
	if strings.TrimSpace(nickname) == "" {
		return &ValidationError{ConnectionID: connectionID, Err: ErrMissingNickname}
	}

	ttl := r.ConnTTL
	if ttl <= 0 {
		ttl = DefaultConnTTL
	}
	now := time.Now()
	conn := connectiondao.Connection{
		ConnectionID: connectionID,
		Nickname:     nickname,
		Endpoint:     r.Endpoint,
		ConnectedAt:  now.Unix(),
		TTL:          now.Add(ttl).Unix(),
	}
	if err := r.Connections.Put(ctx, conn); err != nil {
		return fmt.Errorf("storing connection %v: %w", connectionID, err)
	}
	r.Logger.Info().Str("nickname", nickname).Msg("peer joined")
	r.publish(ctx, publish.Joined, connectionID, nickname)

	roster, endpoints, err := r.read(ctx)
	if err != nil {
		return err
	}
	_, err = r.broadcast(ctx, "join", roster.Targets(connectionID), roster, endpoints)
	return err
}

// Leave removes connectionID, whether or not it was present, and sends the
// updated roster to the remaining peers.
func (r *Registry) Leave(ctx context.Context, connectionID string) error {
	if err := r.Connections.Delete(ctx, connectionID); err != nil {
		return fmt.Errorf("deleting connection %v: %w", connectionID, err)
	}
	r.Logger.Info().Msg("peer left")
	r.publish(ctx, publish.Left, connectionID, "")

	roster, endpoints, err := r.read(ctx)
	if err != nil {
		return err
	}
	// a lagging scan may still return the record just deleted
	roster = roster.Without(connectionID)
	_, err = r.broadcast(ctx, "leave", roster.Targets(), roster, endpoints)
	return err
}

// ListPeers sends the current roster to connectionID alone.
func (r *Registry) ListPeers(ctx context.Context, connectionID string) error {
	roster, endpoints, err := r.read(ctx)
	if err != nil {
		return err
	}
	_, err = r.broadcast(ctx, "list", []string{connectionID}, roster, endpoints)
	return err
}

// Roster reads the current set of peers from the store. It never touches the
// Notifiers.
func (r *Registry) Roster(ctx context.Context) (Roster, error) {
	roster, _, err := r.read(ctx)
	return roster, err
}

// read returns the roster along with the management endpoint stored for
// each connection.
func (r *Registry) read(ctx context.Context) (Roster, map[string]string, error) {
	conns, err := r.Connections.Scan(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading roster: %w", err)
	}
	endpoints := make(map[string]string, len(conns))
	for _, conn := range conns {
		if conn.Endpoint != "" {
			endpoints[conn.ConnectionID] = conn.Endpoint
		}
	}
	return RosterOf(conns), endpoints, nil
}

func (r *Registry) publish(ctx context.Context, kind, connectionID, nickname string) {
	if r.Events == nil {
		return
	}
	event := publish.Event{
		Kind:         kind,
		ConnectionID: connectionID,
		Nickname:     nickname,
		At:           time.Now().Unix(),
	}
	if err := r.Events.Send(ctx, RosterTopic, event); err != nil {
		r.Logger.Warn().Err(err).
			Str("kind", kind).
			Str("target", connectionID).
			Msg("failed to publish roster event")
	}
}
