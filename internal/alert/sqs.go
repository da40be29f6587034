package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

const sqsTimeout = 10 * time.Second

// SQSAPI is the subset of the SQS client used by SQSSink.
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink enqueues alerts as JSON messages for an out-of-band consumer.
type SQSSink struct {
	client   SQSAPI
	queueURL string
}

// NewSQSSink creates a sink for queueURL, loading AWS config from the default chain.
func NewSQSSink(ctx context.Context, queueURL, region string) (*SQSSink, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSQSSinkWithClient(sqs.NewFromConfig(cfg), queueURL), nil
}

// NewSQSSinkWithClient creates a sink around an existing client.
func NewSQSSinkWithClient(client SQSAPI, queueURL string) *SQSSink {
	return &SQSSink{client: client, queueURL: queueURL}
}

// Name returns the sink identifier.
func (s *SQSSink) Name() string { return "sqs" }

// Send enqueues the alert. Level, run id and category travel as message
// attributes so consumers can filter without decoding the body.
func (s *SQSSink) Send(ctx context.Context, alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	attrs := map[string]sqstypes.MessageAttributeValue{
		"level": stringAttr(string(alert.Level)),
	}
	if alert.RunID != "" {
		attrs["runId"] = stringAttr(alert.RunID)
	}
	if alert.Category != "" {
		attrs["category"] = stringAttr(string(alert.Category))
	}

	ctx, cancel := context.WithTimeout(ctx, sqsTimeout)
	defer cancel()
	if _, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(s.queueURL),
		MessageBody:       aws.String(string(data)),
		MessageAttributes: attrs,
	}); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

func stringAttr(v string) sqstypes.MessageAttributeValue {
	return sqstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}
