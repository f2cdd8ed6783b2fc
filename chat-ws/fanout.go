package chatws

import (
	"context"
	"errors"
	"fmt"
	"time"

	chatcli "github.com/serverless-chat/chat-go-utils/chat-cli"
	"github.com/serverless-chat/chat-go-utils/chat-ws/publish"
	"golang.org/x/sync/errgroup"
)

// FanoutResult lists what happened to each target of a broadcast.
type FanoutResult struct {
	Delivered []string
	Pruned    []string
	Failed    []string
}

// Broadcast delivers roster to every target concurrently through the
// registry's Endpoint. A failed delivery never stops the others. Targets
// reported gone are removed from the store once every delivery has resolved;
// any other failure is returned as a *BroadcastError.
func (r *Registry) Broadcast(ctx context.Context, targets []string, roster Roster) (FanoutResult, error) {
	return r.broadcast(ctx, "broadcast", targets, roster, nil)
}

// broadcast sends each target through the endpoint recorded for it in
// endpoints, falling back to r.Endpoint.
func (r *Registry) broadcast(ctx context.Context, operation string, targets []string, roster Roster, endpoints map[string]string) (FanoutResult, error) {
	var result FanoutResult
	if len(targets) == 0 {
		return result, nil
	}
	defer func(begin time.Time) {
		if r.Metrics == nil {
			return
		}
		op := chatcli.Operation(operation)
		r.Metrics.Timing(ctx, chatcli.FanoutTimeMetric, begin, op)
		r.Metrics.Gauge(ctx, chatcli.RosterSizeMetric, float64(len(roster)), op)
		r.Metrics.Gauge(ctx, chatcli.RosterDeliveredMetric, float64(len(result.Delivered)), op)
		r.Metrics.Gauge(ctx, chatcli.RosterPrunedMetric, float64(len(result.Pruned)), op)
		r.Metrics.Gauge(ctx, chatcli.RosterFailedMetric, float64(len(result.Failed)), op)
	}(time.Now())

	payload, err := roster.Encode()
	if err != nil {
		return result, err
	}

	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	r.Logger.Debug().
		Str("operation", operation).
		Int("targets", len(targets)).
		Int("peers", len(roster)).
		Msg("broadcasting roster")

	notifiers := r.notifiers(targets, endpoints)

	// No shared context: one failure must not cancel the other deliveries.
	var g errgroup.Group
	g.SetLimit(concurrency)

	outcomes := make([]error, len(targets))
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			outcomes[i] = r.deliver(ctx, notifiers[i], target, payload)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for i, target := range targets {
		switch err := outcomes[i]; {
		case err == nil:
			result.Delivered = append(result.Delivered, target)

		case errors.Is(err, ErrPeerGone):
			r.Logger.Info().Str("target", target).Msg("connection gone, pruning")
			if err := r.prune(ctx, target); err != nil {
				r.Logger.Error().Err(err).Str("target", target).Msg("failed to prune gone connection")
				result.Failed = append(result.Failed, target)
				errs = append(errs, err)
				continue
			}
			result.Pruned = append(result.Pruned, target)

		default:
			r.Logger.Error().Err(err).Str("target", target).Msg("failed to deliver roster")
			result.Failed = append(result.Failed, target)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return result, &BroadcastError{Failed: result.Failed, Err: errors.Join(errs...)}
	}
	return result, nil
}

// notifiers resolves one Notifier per target, asking the factory once per
// distinct endpoint.
func (r *Registry) notifiers(targets []string, endpoints map[string]string) []Notifier {
	byEndpoint := map[string]Notifier{}
	notifiers := make([]Notifier, len(targets))
	for i, target := range targets {
		endpoint := endpoints[target]
		if endpoint == "" {
			endpoint = r.Endpoint
		}
		n, ok := byEndpoint[endpoint]
		if !ok {
			n = r.Notifiers.Notifier(endpoint)
			byEndpoint[endpoint] = n
		}
		notifiers[i] = n
	}
	return notifiers
}

func (r *Registry) deliver(ctx context.Context, notifier Notifier, target string, payload []byte) error {
	timeout := r.SendTimeout
	if timeout == 0 {
		timeout = DefaultSendTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := notifier.Send(ctx, target, payload)
	if err == nil || errors.Is(err, ErrPeerGone) {
		return err
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{ConnectionID: target, Err: err}
}

func (r *Registry) prune(ctx context.Context, connectionID string) error {
	if err := r.Connections.Delete(ctx, connectionID); err != nil {
		return fmt.Errorf("pruning gone connection %v: %w", connectionID, err)
	}
	r.publish(ctx, publish.Pruned, connectionID, "")
	return nil
}
