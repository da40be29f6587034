// Package dynamodb implements the OutcomeStore using AWS DynamoDB.
//
// Single-table layout:
//
//	PK=RUN#<runID>  SK=RUN               the pipeline run
//	PK=RUN#<runID>  SK=FAILURE#<id>      failure records (ULID ids sort by time)
//	PK=RUN#<runID>  SK=ATTEMPT#<id>      remediation attempts
//
// GSI1 indexes runs and attempts by creation time (GSI1PK=TYPE#<kind>,
// GSI1SK=<UTC timestamp>#<id>) for windowed statistics.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/pipemedic/internal/store"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// Compile-time interface satisfaction check.
var _ store.OutcomeStore = (*Store)(nil)

// DefaultRetentionDays is how long items live before DynamoDB TTL expires them.
const DefaultRetentionDays = 90

// DDBAPI is the subset of the DynamoDB client the store uses.
type DDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// Store implements store.OutcomeStore backed by DynamoDB.
type Store struct {
	client      DDBAPI
	tableName   string
	logger      *slog.Logger
	retention   time.Duration
	createTable bool
	now         func() time.Time
}

// New creates a Store from configuration, loading AWS credentials from the
// default chain. A configured endpoint (DynamoDB Local) uses static credentials.
func New(ctx context.Context, cfg *types.DynamoDBConfig, logger *slog.Logger) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var clientOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	s := NewFromClient(dynamodb.NewFromConfig(awsCfg, clientOpts...), cfg.TableName, cfg.RetentionDays, logger)
	s.createTable = cfg.CreateTable
	return s, nil
}

// NewFromClient creates a Store around an existing client.
func NewFromClient(client DDBAPI, tableName string, retentionDays int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Store{
		client:    client,
		tableName: tableName,
		logger:    logger,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// Start optionally creates the table, then pings it.
func (s *Store) Start(ctx context.Context) error {
	if s.createTable {
		if err := s.ensureTable(ctx); err != nil {
			return err
		}
	}
	return s.Ping(ctx)
}

// Stop is a no-op; the client holds no persistent connections.
func (s *Store) Stop(_ context.Context) error {
	return nil
}

// Ping checks connectivity by describing the table.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: &s.tableName,
	})
	if err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

func (s *Store) ensureTable(ctx context.Context) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: &s.tableName,
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: ddbtypes.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: ddbtypes.KeyTypeRange},
		},
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1PK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1SK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		GlobalSecondaryIndexes: []ddbtypes.GlobalSecondaryIndex{
			{
				IndexName: aws.String(gsi1),
				KeySchema: []ddbtypes.KeySchemaElement{
					{AttributeName: aws.String("GSI1PK"), KeyType: ddbtypes.KeyTypeHash},
					{AttributeName: aws.String("GSI1SK"), KeyType: ddbtypes.KeyTypeRange},
				},
				Projection: &ddbtypes.Projection{ProjectionType: ddbtypes.ProjectionTypeAll},
			},
		},
		BillingMode: ddbtypes.BillingModePayPerRequest,
	})
	if err != nil {
		var riue *ddbtypes.ResourceInUseException
		if errors.As(err, &riue) {
			return nil // table already exists
		}
		return fmt.Errorf("creating table: %w", err)
	}

	_, err = s.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: &s.tableName,
		TimeToLiveSpecification: &ddbtypes.TimeToLiveSpecification{
			Enabled:       aws.Bool(true),
			AttributeName: aws.String("ttl"),
		},
	})
	if err != nil {
		s.logger.Warn("failed to enable TTL (may already be enabled)", "error", err)
	}
	return nil
}

func isConditionalCheckFailed(err error) bool {
	var ccfe *ddbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccfe)
}
