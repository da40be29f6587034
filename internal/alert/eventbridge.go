package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// Event envelope defaults.
const (
	defaultEventSource = "pipemedic"
	eventDetailType    = "Pipeline Healing Escalation"
	eventBridgeTimeout = 10 * time.Second
)

// EventBridgeAPI is the subset of the EventBridge client used by EventBridgeSink.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, input *eventbridge.PutEventsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeSink publishes alerts as events on an EventBridge bus.
type EventBridgeSink struct {
	client EventBridgeAPI
	bus    string
	source string
}

// NewEventBridgeSink creates a sink for bus, loading AWS config from the
// default chain. An empty bus means the account's default bus.
func NewEventBridgeSink(ctx context.Context, bus, source, region string) (*EventBridgeSink, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewEventBridgeSinkWithClient(eventbridge.NewFromConfig(cfg), bus, source), nil
}

// NewEventBridgeSinkWithClient creates a sink around an existing client.
func NewEventBridgeSinkWithClient(client EventBridgeAPI, bus, source string) *EventBridgeSink {
	if bus == "" {
		bus = "default"
	}
	if source == "" {
		source = defaultEventSource
	}
	return &EventBridgeSink{client: client, bus: bus, source: source}
}

// Name returns the sink identifier.
func (s *EventBridgeSink) Name() string { return "eventbridge" }

// Send puts the alert on the bus as the event detail.
func (s *EventBridgeSink) Send(ctx context.Context, alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, eventBridgeTimeout)
	defer cancel()
	out, err := s.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			EventBusName: aws.String(s.bus),
			Source:       aws.String(s.source),
			DetailType:   aws.String(eventDetailType),
			Detail:       aws.String(string(data)),
			Time:         aws.Time(alert.Timestamp),
		}},
	})
	if err != nil {
		return fmt.Errorf("putting event: %w", err)
	}
	if out.FailedEntryCount > 0 && len(out.Entries) > 0 {
		e := out.Entries[0]
		return fmt.Errorf("event rejected: %s: %s", aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
	}
	return nil
}
