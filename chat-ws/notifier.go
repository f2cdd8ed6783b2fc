package chatws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
)

// Notifier pushes a payload to a single connection. Send returns ErrPeerGone
// when the connection no longer exists and a *TransportError for any other
// failure.
type Notifier interface {
	Send(ctx context.Context, connectionID string, payload []byte) error
}

// NotifierFactory returns the Notifier serving connections on endpoint.
type NotifierFactory interface {
	Notifier(endpoint string) Notifier
}

// ManagementAPI delivers payloads through the API Gateway Management API.
// Clients are cached per endpoint across warm invocations.
type ManagementAPI struct {
	session   *session.Session
	newClient func(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI

	mu      sync.RWMutex
	clients map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI
}

func NewManagementAPI(s *session.Session) *ManagementAPI {
	m := &ManagementAPI{session: s}
	m.newClient = func(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
		return apigatewaymanagementapi.New(m.session, aws.NewConfig().WithEndpoint(endpoint))
	}
	return m
}

func (m *ManagementAPI) Notifier(endpoint string) Notifier {
	return &managementNotifier{client: m.client(endpoint)}
}

func (m *ManagementAPI) client(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
	m.mu.RLock()
	if client, ok := m.clients[endpoint]; ok {
		m.mu.RUnlock()
		return client
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[endpoint]; ok {
		return client
	}
	if m.clients == nil {
		m.clients = make(map[string]apigatewaymanagementapiiface.ApiGatewayManagementApiAPI)
	}
	client := m.newClient(endpoint)
	m.clients[endpoint] = client
	return client
}

type managementNotifier struct {
	client apigatewaymanagementapiiface.ApiGatewayManagementApiAPI
}

func (n *managementNotifier) Send(ctx context.Context, connectionID string, payload []byte) error {
	_, err := n.client.PostToConnectionWithContext(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         payload,
	})
	if err == nil {
		return nil
	}
	if isGoneException(err) {
		return ErrPeerGone
	}
	return &TransportError{ConnectionID: connectionID, Err: err}
}

// isGoneException reports whether the management API answered 410 Gone.
func isGoneException(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusGone {
		return true
	}
	var awsErr awserr.Error
	return errors.As(err, &awsErr) && awsErr.Code() == apigatewaymanagementapi.ErrCodeGoneException
}
