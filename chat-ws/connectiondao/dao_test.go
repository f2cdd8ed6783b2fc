package connectiondao

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
	"github.com/tj/assert"
)

type pagedScanAPI struct {
	dynamodbiface.DynamoDBAPI

	pages []*dynamodb.ScanOutput
	input *dynamodb.ScanInput
	err   error
}

func (p *pagedScanAPI) ScanPagesWithContext(_ aws.Context, input *dynamodb.ScanInput, fn func(*dynamodb.ScanOutput, bool) bool, _ ...request.Option) error {
	p.input = input
	if p.err != nil {
		return p.err
	}
	for i, page := range p.pages {
		if !fn(page, i == len(p.pages)-1) {
			break
		}
	}
	return nil
}

func page(t *testing.T, conns ...Connection) *dynamodb.ScanOutput {
	var items []map[string]*dynamodb.AttributeValue
	for _, conn := range conns {
		item, err := dynamodbattribute.MarshalMap(conn)
		assert.NoError(t, err)
		items = append(items, item)
	}
	return &dynamodb.ScanOutput{Items: items}
}

func TestScan(t *testing.T) {
	t.Run("collects every page", func(t *testing.T) {
		api := &pagedScanAPI{
			pages: []*dynamodb.ScanOutput{
				page(t, Connection{ConnectionID: "a", Nickname: "alice"}),
				page(t, Connection{ConnectionID: "b", Nickname: "bob"}, Connection{ConnectionID: "c", Nickname: "carol"}),
			},
		}
		dao := New(api, "local-chat--clients")

		conns, err := dao.Scan(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, []Connection{
			{ConnectionID: "a", Nickname: "alice"},
			{ConnectionID: "b", Nickname: "bob"},
			{ConnectionID: "c", Nickname: "carol"},
		}, conns)
		assert.Equal(t, "local-chat--clients", aws.StringValue(api.input.TableName))
		assert.True(t, aws.BoolValue(api.input.ConsistentRead))
	})

	t.Run("empty table", func(t *testing.T) {
		dao := New(&pagedScanAPI{pages: []*dynamodb.ScanOutput{{}}}, "t")

		conns, err := dao.Scan(context.Background())
		assert.NoError(t, err)
		assert.Empty(t, conns)
	})

	t.Run("scan failure", func(t *testing.T) {
		dao := New(&pagedScanAPI{err: fmt.Errorf("ResourceNotFoundException")}, "t")

		_, err := dao.Scan(context.Background())
		assert.Error(t, err)
	})
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "prod-chat--clients", TableName("prod"))
}

// withTable runs against DynamoDB local, e.g. DDB_LOCAL_ENDPOINT=http://localhost:8000
func withTable(t *testing.T, callback func(ctx context.Context, dao *DAO)) {
	endpoint := os.Getenv("DDB_LOCAL_ENDPOINT")
	if endpoint == "" {
		t.Skip("DDB_LOCAL_ENDPOINT not set")
	}

	var (
		s = session.Must(session.NewSession(aws.NewConfig().
			WithCredentials(credentials.NewStaticCredentials("blah", "blah", "")).
			WithEndpoint(endpoint).
			WithRegion("us-west-2")))
		api       = dynamodb.New(s)
		tableName = fmt.Sprintf("table-%v", time.Now().UnixNano())
		table     = ddb.New(api).MustTable(tableName, Connection{})
		dao       = New(api, tableName)
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := table.CreateTableIfNotExists(ctx)
	assert.Nil(t, err)
	defer table.DeleteTableIfExists(ctx)

	callback(ctx, dao)
}

func TestDAO(t *testing.T) {
	withTable(t, func(ctx context.Context, dao *DAO) {
		err := dao.Put(ctx, Connection{ConnectionID: "a", Nickname: "alice"})
		assert.Nil(t, err)

		// upsert replaces the nickname
		err = dao.Put(ctx, Connection{ConnectionID: "a", Nickname: "alicia"})
		assert.Nil(t, err)

		err = dao.Put(ctx, Connection{ConnectionID: "b", Nickname: "bob"})
		assert.Nil(t, err)

		conns, err := dao.Scan(ctx)
		assert.Nil(t, err)
		assert.ElementsMatch(t, []Connection{
			{ConnectionID: "a", Nickname: "alicia"},
			{ConnectionID: "b", Nickname: "bob"},
		}, conns)

		err = dao.Delete(ctx, "a")
		assert.Nil(t, err)

		// deleting twice is fine
		err = dao.Delete(ctx, "a")
		assert.Nil(t, err)

		conns, err = dao.Scan(ctx)
		assert.Nil(t, err)
		assert.Equal(t, []Connection{{ConnectionID: "b", Nickname: "bob"}}, conns)
	})
}
