package chatws

import (
	"time"

	chatcli "github.com/serverless-chat/chat-go-utils/chat-cli"
	"github.com/urfave/cli/v2"
)

var WSOpts struct {
	ConnTTL            time.Duration
	Concurrency        int
	SendTimeout        time.Duration
	EventsStream       string
	ManagementEndpoint string
}

var ConnTTLFlag = chatcli.DurationFlag("conn-ttl", "How long a connection record may live without a disconnect", &WSOpts.ConnTTL, DefaultConnTTL)
var ConcurrencyFlag = chatcli.IntFlag("concurrency", "Max concurrent deliveries per roster broadcast", &WSOpts.Concurrency, DefaultConcurrency)
var SendTimeoutFlag = chatcli.DurationFlag("send-timeout", "Timeout for a single delivery", &WSOpts.SendTimeout, DefaultSendTimeout)
var EventsStreamFlag = chatcli.StringFlag("events-stream", "Kinesis stream for roster change events; empty disables publishing", &WSOpts.EventsStream)
var ManagementEndpointFlag = chatcli.StringFlag("management-endpoint", "API Gateway management endpoint override, for custom domains", &WSOpts.ManagementEndpoint)

var WSFlags = []cli.Flag{
	ConnTTLFlag,
	ConcurrencyFlag,
	SendTimeoutFlag,
	EventsStreamFlag,
	ManagementEndpointFlag,
}
