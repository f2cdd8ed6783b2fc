package main

import (
	"fmt"
	"log"
	"os"
	"slices"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	chatcli "github.com/serverless-chat/chat-go-utils/chat-cli"
	chatddb "github.com/serverless-chat/chat-go-utils/chat-ddb"
	chatlocal "github.com/serverless-chat/chat-go-utils/chat-local"
	chatws "github.com/serverless-chat/chat-go-utils/chat-ws"
	"github.com/serverless-chat/chat-go-utils/chat-ws/connectiondao"
	"github.com/serverless-chat/chat-go-utils/chat-ws/publish"
	"github.com/urfave/cli/v2"
)

var service = chatcli.NewService("chat-ws")

func main() {
	app := chatcli.App(
		service,
		action,
		slices.Concat(
			chatcli.CommonFlags,
			[]cli.Flag{chatcli.PortFlag(5001)},
			chatddb.DDBFlags,
			chatws.WSFlags,
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func connections(s *session.Session) (chatws.ConnectionStore, error) {
	if chatcli.CommonOpts.Dry {
		return connectiondao.NewMemory(), nil
	}
	api, err := chatddb.DynamoDBAPI(s)
	if err != nil {
		return nil, err
	}
	if chatddb.DDBOpts.TableName != "" {
		return connectiondao.New(api, chatddb.DDBOpts.TableName), nil
	}
	return connectiondao.Build(api, chatcli.CommonOpts.Env), nil
}

func action(_ *cli.Context) error {
	var (
		s      = session.Must(session.NewSession(aws.NewConfig()))
		logger = chatcli.Logger(service)
	)

	store, err := connections(s)
	if err != nil {
		return fmt.Errorf("unable to build connection store: %w", err)
	}

	if chatcli.CommonOpts.Console {
		gateway := chatlocal.New(logger)
		handler := chatws.NewHandler(store, gateway, logger)
		return gateway.ListenAndServe(fmt.Sprintf(":%v", chatcli.CommonOpts.Port), handler)
	}

	handler := chatws.NewHandler(store, chatws.NewManagementAPI(s), logger)
	if !chatcli.CommonOpts.Dry {
		handler.Metrics = chatcli.NewMetrics(service, cloudwatch.New(s))
		if chatws.WSOpts.EventsStream != "" {
			handler.Events = publish.Build(s, chatcli.CommonOpts.Env, chatws.WSOpts.EventsStream)
		}
	}
	logger.Info().Str("env", chatcli.CommonOpts.Env).Msg("starting lambda handler")
	lambda.Start(handler.HandleEvent)
	return nil
}
