// internal/feeds/archive.go
package feeds

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/javajoker/marketsync/internal/models"
)

// Archiver keeps a copy of every submitted document.
type Archiver interface {
	Archive(ctx context.Context, feed Submission, document []byte) (string, error)
}

// S3API is the part of the S3 client the archiver uses.
type S3API interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Archiver(client S3API, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// Key is where a submission is stored: prefix/account/type/date/feed-id.tsv.
func (a *S3Archiver) Key(feed Submission) string {
	key := fmt.Sprintf("%s/%s/%s/%s.tsv",
		feed.AccountID, feed.Type, feed.SubmittedAt.UTC().Format("2006/01/02"), feed.FeedID)
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}
	return key
}

func (a *S3Archiver) Archive(ctx context.Context, feed Submission, document []byte) (string, error) {
	key := a.Key(feed)
	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(document),
		ContentType:   aws.String("text/tab-separated-values"),
		ContentLength: aws.Int64(int64(len(document))),
		Metadata: map[string]*string{
			"marketplace": aws.String(feed.MarketplaceCode),
			"requests":    aws.String(fmt.Sprint(feed.Requests)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload feed %s: %w", feed.FeedID, err)
	}
	return key, nil
}

// Submission describes one submitted feed document.
type Submission struct {
	AccountID       string          `json:"account_id"`
	Type            models.FeedType `json:"type"`
	MarketplaceCode string          `json:"marketplace_code"`
	FeedID          string          `json:"feed_id,omitempty"`
	Requests        int             `json:"requests"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	ArchiveKey      string          `json:"archive_key,omitempty"`
	Error           string          `json:"error,omitempty"`
}
