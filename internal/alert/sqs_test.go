package alert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

type mockSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQS) SendMessage(_ context.Context, input *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSSink_Send(t *testing.T) {
	mock := &mockSQS{}
	sink := NewSQSSinkWithClient(mock, "https://sqs.eu-west-1.amazonaws.com/123/escalations")
	assert.Equal(t, "sqs", sink.Name())

	alert := testAlert()
	require.NoError(t, sink.Send(context.Background(), alert))

	require.Len(t, mock.inputs, 1)
	in := mock.inputs[0]
	assert.Equal(t, "https://sqs.eu-west-1.amazonaws.com/123/escalations", aws.ToString(in.QueueUrl))
	assert.Equal(t, "error", aws.ToString(in.MessageAttributes["level"].StringValue))
	assert.Equal(t, "4242", aws.ToString(in.MessageAttributes["runId"].StringValue))

	var decoded types.Alert
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &decoded))
	assert.Equal(t, alert.Message, decoded.Message)
}

func TestSQSSink_OmitsEmptyAttributes(t *testing.T) {
	mock := &mockSQS{}
	sink := NewSQSSinkWithClient(mock, "q")
	require.NoError(t, sink.Send(context.Background(), types.Alert{Level: types.AlertLevelInfo, Message: "poll recovered"}))

	attrs := mock.inputs[0].MessageAttributes
	assert.Len(t, attrs, 1)
	assert.Contains(t, attrs, "level")
}

func TestSQSSink_Error(t *testing.T) {
	mock := &mockSQS{err: errors.New("AccessDenied")}
	sink := NewSQSSinkWithClient(mock, "q")
	err := sink.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}
