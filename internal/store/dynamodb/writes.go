package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/pipemedic/internal/store"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

const conditionNew = "attribute_not_exists(PK)"

// UpsertPipelineRun writes the run item, replacing any previous version.
func (s *Store) UpsertPipelineRun(ctx context.Context, run types.PipelineRun) error {
	if err := store.ValidateRun(run); err != nil {
		return err
	}
	av, err := s.runItem(run)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", run.ID, err)
	}
	return nil
}

// CreateFailureRecord writes a failure record once.
func (s *Store) CreateFailureRecord(ctx context.Context, rec types.FailureRecord) error {
	if err := store.ValidateFailureRecord(rec); err != nil {
		return err
	}
	av, err := s.failureItem(rec)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: aws.String(conditionNew),
	})
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("failure record %s: %w", rec.ID, store.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create failure record %s: %w", rec.ID, err)
	}
	return nil
}

// CreateRemediationAttempt writes an attempt in a transaction that also
// checks its failure record exists under the same run.
func (s *Store) CreateRemediationAttempt(ctx context.Context, a types.RemediationAttempt) error {
	if err := store.ValidateAttempt(a); err != nil {
		return err
	}
	av, err := s.attemptItem(a)
	if err != nil {
		return err
	}
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{
				ConditionCheck: &ddbtypes.ConditionCheck{
					TableName: &s.tableName,
					Key: map[string]ddbtypes.AttributeValue{
						"PK": &ddbtypes.AttributeValueMemberS{Value: runPK(a.RunID)},
						"SK": &ddbtypes.AttributeValueMemberS{Value: failureSK(a.FailureRecordID)},
					},
					ConditionExpression: aws.String("attribute_exists(PK)"),
				},
			},
			{
				Put: &ddbtypes.Put{
					TableName:           &s.tableName,
					Item:                av,
					ConditionExpression: aws.String(conditionNew),
				},
			},
		},
	})
	if err == nil {
		return nil
	}

	var tce *ddbtypes.TransactionCanceledException
	if errors.As(err, &tce) {
		reasons := tce.CancellationReasons
		if len(reasons) > 0 && aws.ToString(reasons[0].Code) == "ConditionalCheckFailed" {
			return fmt.Errorf("failure record %s: %w", a.FailureRecordID, store.ErrNotFound)
		}
		if len(reasons) > 1 && aws.ToString(reasons[1].Code) == "ConditionalCheckFailed" {
			return fmt.Errorf("remediation attempt %s: %w", a.ID, store.ErrAlreadyExists)
		}
	}
	return fmt.Errorf("create remediation attempt %s: %w", a.ID, err)
}
