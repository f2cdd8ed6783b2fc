package connectiondao

// Connection is one connected chat peer, keyed by the API Gateway connection id.
type Connection struct {
	ConnectionID string `dynamodbav:"pk" ddb:"hash"`
	Nickname     string `dynamodbav:"nickname"`
	Endpoint     string `dynamodbav:"endpoint,omitempty"`
	ConnectedAt  int64  `dynamodbav:"connected_at,omitempty"`
	TTL          int64  `dynamodbav:"ttl,omitempty"`
}
