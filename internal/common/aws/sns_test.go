package aws

import (
	"context"
	"errors"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	PublishFunc func(ctx context.Context, in *sns.PublishInput) (*sns.PublishOutput, error)
}

func (m *mockPublisher) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, in)
}

func TestSendSMS(t *testing.T) {
	var captured *sns.PublishInput
	client := NewSNSClientWith(&mockPublisher{
		PublishFunc: func(_ context.Context, in *sns.PublishInput) (*sns.PublishOutput, error) {
			captured = in
			return &sns.PublishOutput{MessageId: awssdk.String("msg-1")}, nil
		},
	}, "IMMO")

	id, err := client.SendSMS(context.Background(), "+33600000000", "Nouvelle annonce")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "+33600000000", awssdk.ToString(captured.PhoneNumber))
	assert.Equal(t, "IMMO", awssdk.ToString(captured.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue))
}

func TestSendSMS_Error(t *testing.T) {
	client := NewSNSClientWith(&mockPublisher{
		PublishFunc: func(context.Context, *sns.PublishInput) (*sns.PublishOutput, error) {
			return nil, errors.New("throttled")
		},
	}, "")

	_, err := client.SendSMS(context.Background(), "+33600000000", "x")
	assert.EqualError(t, err, "throttled")
}
