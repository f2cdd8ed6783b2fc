package chatws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go/service/apigatewaymanagementapi/apigatewaymanagementapiiface"
	"github.com/tj/assert"
)

type fakeManagementAPI struct {
	apigatewaymanagementapiiface.ApiGatewayManagementApiAPI

	input *apigatewaymanagementapi.PostToConnectionInput
	err   error
}

func (f *fakeManagementAPI) PostToConnectionWithContext(_ aws.Context, input *apigatewaymanagementapi.PostToConnectionInput, _ ...request.Option) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	f.input = input
	return &apigatewaymanagementapi.PostToConnectionOutput{}, f.err
}

func managementAPIWith(client apigatewaymanagementapiiface.ApiGatewayManagementApiAPI, created *[]string) *ManagementAPI {
	return &ManagementAPI{
		newClient: func(endpoint string) apigatewaymanagementapiiface.ApiGatewayManagementApiAPI {
			*created = append(*created, endpoint)
			return client
		},
	}
}

func TestManagementAPI(t *testing.T) {
	ctx := context.Background()

	t.Run("posts the payload", func(t *testing.T) {
		client := &fakeManagementAPI{}
		var created []string
		n := managementAPIWith(client, &created).Notifier("https://x/dev")

		err := n.Send(ctx, "abc=", []byte(`[]`))
		assert.NoError(t, err)
		assert.Equal(t, "abc=", aws.StringValue(client.input.ConnectionId))
		assert.Equal(t, []byte(`[]`), client.input.Data)
	})

	t.Run("gone exception", func(t *testing.T) {
		client := &fakeManagementAPI{err: awserr.New(apigatewaymanagementapi.ErrCodeGoneException, "", nil)}
		var created []string

		err := managementAPIWith(client, &created).Notifier("https://x/dev").Send(ctx, "abc=", nil)
		assert.True(t, errors.Is(err, ErrPeerGone))
	})

	t.Run("410 status", func(t *testing.T) {
		client := &fakeManagementAPI{err: awserr.NewRequestFailure(awserr.New("UnknownError", "", nil), 410, "req-1")}
		var created []string

		err := managementAPIWith(client, &created).Notifier("https://x/dev").Send(ctx, "abc=", nil)
		assert.True(t, errors.Is(err, ErrPeerGone))
	})

	t.Run("other failures are transport errors", func(t *testing.T) {
		cause := awserr.NewRequestFailure(awserr.New(apigatewaymanagementapi.ErrCodeForbiddenException, "", nil), 403, "req-2")
		client := &fakeManagementAPI{err: cause}
		var created []string

		err := managementAPIWith(client, &created).Notifier("https://x/dev").Send(ctx, "abc=", nil)
		assert.False(t, errors.Is(err, ErrPeerGone))
		var te *TransportError
		assert.True(t, errors.As(err, &te))
		assert.Equal(t, "abc=", te.ConnectionID)
		assert.Equal(t, cause, te.Err)
	})

	t.Run("clients are cached per endpoint", func(t *testing.T) {
		var created []string
		m := managementAPIWith(&fakeManagementAPI{}, &created)

		m.Notifier("https://x/dev")
		m.Notifier("https://x/dev")
		m.Notifier("https://y/prod")
		assert.Equal(t, []string{"https://x/dev", "https://y/prod"}, created)
	})
}
