package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/pipemedic/internal/store"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// GetAggregateStatistics counts failed runs and attempts through GSI1.
func (s *Store) GetAggregateStatistics(ctx context.Context, windowDays int) (types.AggregateStatistics, error) {
	since := timeSK(store.WindowStart(s.now(), windowDays))

	failures, err := s.count(ctx, kindRun, since, "conclusion",
		&ddbtypes.AttributeValueMemberS{Value: string(types.ConclusionFailure)})
	if err != nil {
		return types.AggregateStatistics{}, err
	}
	attempted, err := s.count(ctx, kindAttempt, since, "", nil)
	if err != nil {
		return types.AggregateStatistics{}, err
	}
	succeeded, err := s.count(ctx, kindAttempt, since, "success",
		&ddbtypes.AttributeValueMemberBOOL{Value: true})
	if err != nil {
		return types.AggregateStatistics{}, err
	}
	return store.NewStatistics(windowDays, failures, attempted, succeeded), nil
}

// count sums Query counts over every GSI1 page for one kind since a time,
// optionally keeping only items whose attr equals value.
func (s *Store) count(ctx context.Context, kind, since, attr string, value ddbtypes.AttributeValue) (int, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String(gsi1),
		KeyConditionExpression: aws.String("GSI1PK = :pk AND GSI1SK >= :since"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk":    &ddbtypes.AttributeValueMemberS{Value: typePK(kind)},
			":since": &ddbtypes.AttributeValueMemberS{Value: since},
		},
		Select: ddbtypes.SelectCount,
	}
	if attr != "" {
		input.FilterExpression = aws.String("#f = :v")
		input.ExpressionAttributeNames = map[string]string{"#f": attr}
		input.ExpressionAttributeValues[":v"] = value
	}

	total := 0
	pages := dynamodb.NewQueryPaginator(s.client, input)
	for pages.HasMorePages() {
		out, err := pages.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("counting %s items: %w", kind, err)
		}
		total += int(out.Count)
	}
	return total, nil
}

// GetRunHistory reads the run partition: the run, its failure records and attempts.
func (s *Store) GetRunHistory(ctx context.Context, runID string) (*types.RunHistory, error) {
	pages := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: runPK(runID)},
		},
		ConsistentRead: aws.Bool(true),
	})

	var (
		h     = &types.RunHistory{Failures: []types.FailureRecord{}, Attempts: []types.RemediationAttempt{}}
		found bool
		now   = s.now()
		items []item
	)
	for pages.HasMorePages() {
		out, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("get run %s: %w", runID, err)
		}
		var page []item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal run %s items: %w", runID, err)
		}
		items = append(items, page...)
	}

	for _, it := range items {
		if isExpired(now, it.TTL) {
			continue
		}
		var err error
		switch it.Kind {
		case kindRun:
			err = json.Unmarshal([]byte(it.Data), &h.Run)
			found = err == nil
		case kindFailure:
			var f types.FailureRecord
			if err = json.Unmarshal([]byte(it.Data), &f); err == nil {
				h.Failures = append(h.Failures, f)
			}
		case kindAttempt:
			var a types.RemediationAttempt
			if err = json.Unmarshal([]byte(it.Data), &a); err == nil {
				h.Attempts = append(h.Attempts, a)
			}
		}
		if err != nil {
			s.logger.Warn("skipping corrupt item", "pk", it.PK, "sk", it.SK, "error", err)
		}
	}
	if !found {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}

	sort.SliceStable(h.Failures, func(i, j int) bool {
		return h.Failures[i].CreatedAt.Before(h.Failures[j].CreatedAt)
	})
	sort.SliceStable(h.Attempts, func(i, j int) bool {
		return h.Attempts[i].CreatedAt.Before(h.Attempts[j].CreatedAt)
	})
	return h, nil
}
