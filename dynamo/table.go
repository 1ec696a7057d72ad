package dynamo

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CreateTable creates the strategies table with on-demand billing and
// waits up to maxWait (default 5m) until it is active. An existing table
// is left as is.
func (b *Backend) CreateTable(ctx context.Context, maxWait time.Duration) error {
	if maxWait <= 0 {
		maxWait = 5 * time.Minute
	}
	_, err := b.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(b.config.Table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("application"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("application"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return b.wrap("create table", err)
		}
		b.logger.Info("strategies table already exists", "table", b.config.Table)
	}

	waiter := dynamodb.NewTableExistsWaiter(b.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(b.config.Table),
	}, maxWait); err != nil {
		return b.wrap("wait for table", err)
	}
	b.logger.Info("strategies table ready", "table", b.config.Table)
	return nil
}
