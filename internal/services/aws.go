// internal/services/aws.go
package services

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sqs"

	"github.com/javajoker/marketsync/internal/config"
	"github.com/javajoker/marketsync/internal/feeds"
	"github.com/javajoker/marketsync/internal/notifications"
)

// AWSClients holds the optional SQS intake and S3 archive. A nil field means
// the feature is not configured.
type AWSClients struct {
	SQS notifications.SQSAPI
	S3  feeds.S3API
}

// NewAWSSession uses static credentials when they are configured and the
// default provider chain otherwise.
func NewAWSSession(cfg config.AWSConfig) (*session.Session, error) {
	awsConfig := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return sess, nil
}

func NewAWSClients(cfg config.AWSConfig) (*AWSClients, error) {
	clients := &AWSClients{}
	if cfg.SQSQueueURL == "" && cfg.FeedBucket == "" {
		return clients, nil
	}

	sess, err := NewAWSSession(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.SQSQueueURL != "" {
		clients.SQS = sqs.New(sess)
	}
	if cfg.FeedBucket != "" {
		clients.S3 = s3.New(sess)
	}
	return clients, nil
}

// Archiver returns the S3 feed archiver, or nil when no bucket is set.
func (c *AWSClients) Archiver(cfg config.AWSConfig) feeds.Archiver {
	if c.S3 == nil {
		return nil
	}
	return feeds.NewS3Archiver(c.S3, cfg.FeedBucket, cfg.FeedPrefix)
}
