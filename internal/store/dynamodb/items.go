package dynamodb

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// item is the single-table row shape. Data holds the JSON-encoded entity;
// the remaining attributes exist for keys, filters and TTL.
type item struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	GSI1PK     string `dynamodbav:"GSI1PK,omitempty"`
	GSI1SK     string `dynamodbav:"GSI1SK,omitempty"`
	Kind       string `dynamodbav:"kind"`
	Conclusion string `dynamodbav:"conclusion,omitempty"`
	Success    bool   `dynamodbav:"success,omitempty"`
	Data       string `dynamodbav:"data"`
	TTL        int64  `dynamodbav:"ttl,omitempty"`
}

func (s *Store) runItem(run types.PipelineRun) (map[string]ddbtypes.AttributeValue, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("marshal run: %w", err)
	}
	return attributevalue.MarshalMap(item{
		PK:         runPK(run.ID),
		SK:         skRun,
		GSI1PK:     typePK(kindRun),
		GSI1SK:     byTimeSK(run.StartedAt, run.ID),
		Kind:       kindRun,
		Conclusion: string(run.Conclusion),
		Data:       string(data),
		TTL:        ttlEpoch(s.now(), s.retention),
	})
}

func (s *Store) failureItem(rec types.FailureRecord) (map[string]ddbtypes.AttributeValue, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal failure record: %w", err)
	}
	return attributevalue.MarshalMap(item{
		PK:   runPK(rec.RunID),
		SK:   failureSK(rec.ID),
		Kind: kindFailure,
		Data: string(data),
		TTL:  ttlEpoch(s.now(), s.retention),
	})
}

func (s *Store) attemptItem(a types.RemediationAttempt) (map[string]ddbtypes.AttributeValue, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal remediation attempt: %w", err)
	}
	return attributevalue.MarshalMap(item{
		PK:      runPK(a.RunID),
		SK:      attemptSK(a.ID),
		GSI1PK:  typePK(kindAttempt),
		GSI1SK:  byTimeSK(a.CreatedAt, a.ID),
		Kind:    kindAttempt,
		Success: a.Success,
		Data:    string(data),
		TTL:     ttlEpoch(s.now(), s.retention),
	})
}
