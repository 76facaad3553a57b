// internal/notifications/sqs.go
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SQSAPI is the part of the SQS client the poller uses.
type SQSAPI interface {
	ReceiveMessageWithContext(ctx aws.Context, input *sqs.ReceiveMessageInput, opts ...request.Option) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageWithContext(ctx aws.Context, input *sqs.DeleteMessageInput, opts ...request.Option) (*sqs.DeleteMessageOutput, error)
}

type SQSOptions struct {
	QueueURL    string
	AccountID   uuid.UUID
	WaitSeconds int64
	BatchSize   int64
	// ErrorDelay is how long Run pauses after a failed round.
	ErrorDelay time.Duration
}

// SQSPoller moves offer notifications from an SQS queue into the store. A
// message is deleted from the queue only once it is stored and queued.
type SQSPoller struct {
	client  SQSAPI
	opts    SQSOptions
	service *Service
}

func NewSQSPoller(client SQSAPI, opts SQSOptions, service *Service) *SQSPoller {
	if opts.BatchSize <= 0 || opts.BatchSize > 10 {
		opts.BatchSize = 10
	}
	if opts.WaitSeconds < 0 || opts.WaitSeconds > 20 {
		opts.WaitSeconds = 20
	}
	if opts.ErrorDelay <= 0 {
		opts.ErrorDelay = 5 * time.Second
	}
	return &SQSPoller{client: client, opts: opts, service: service}
}

// Poll runs one receive round and returns how many messages were ingested.
func (p *SQSPoller) Poll(ctx context.Context) (int, error) {
	out, err := p.client.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(p.opts.QueueURL),
		MaxNumberOfMessages: aws.Int64(p.opts.BatchSize),
		WaitTimeSeconds:     aws.Int64(p.opts.WaitSeconds),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to receive messages: %w", err)
	}

	ingested := 0
	for _, msg := range out.Messages {
		id := aws.StringValue(msg.MessageId)
		log := logrus.WithField("message_id", id)

		if _, err := p.service.Ingest(ctx, p.opts.AccountID, id, aws.StringValue(msg.Body)); err != nil {
			// Left on the queue; SQS redelivers it after the visibility timeout.
			log.WithError(err).Error("Failed to ingest offer notification")
			continue
		}
		if _, err := p.client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(p.opts.QueueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			log.WithError(err).Warn("Failed to delete ingested message")
		}
		ingested++
	}
	return ingested, nil
}

// Run polls until ctx is cancelled.
func (p *SQSPoller) Run(ctx context.Context) {
	logrus.WithField("queue_url", p.opts.QueueURL).Info("SQS poller started")
	for ctx.Err() == nil {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("SQS poll failed")
			select {
			case <-ctx.Done():
			case <-time.After(p.opts.ErrorDelay):
			}
		}
	}
	logrus.Info("SQS poller stopped")
}
