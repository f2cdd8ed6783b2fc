package chatddb

import (
	chatcli "github.com/serverless-chat/chat-go-utils/chat-cli"
	"github.com/urfave/cli/v2"
)

var DDBOpts struct {
	DAXCluster string
	TableName  string
	Endpoint   string
	Region     string
}

var DAXClusterFlag = chatcli.StringFlag("dax-cluster", "The DAX cluster to connect to", &DDBOpts.DAXCluster)
var TableNameFlag = chatcli.StringFlag("table-name", "Override the connections table name (defaults to {env}-chat--clients)", &DDBOpts.TableName)
var EndpointFlag = chatcli.StringFlag("ddb-endpoint", "DynamoDB endpoint override, e.g. http://localhost:8000 for DynamoDB local", &DDBOpts.Endpoint)
var RegionFlag = chatcli.StringFlag("region", "AWS region for DynamoDB and DAX", &DDBOpts.Region, "us-east-2")

var DDBFlags = []cli.Flag{
	DAXClusterFlag,
	TableNameFlag,
	EndpointFlag,
	RegionFlag,
}
