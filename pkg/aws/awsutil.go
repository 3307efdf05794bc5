package aws

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Client is an abstraction layer for interacting with AWS services.
type Client struct {
	s3 s3iface.S3API
}

// NewClient creates a new AWS client, expecting that the environment variables configure the settings.
// A non-empty region overrides the configured one.
func NewClient(region string) (*Client, error) {
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}
	return NewClientWithAPI(s3.New(sess)), nil
}

// NewClientWithAPI wraps an existing S3 API implementation.
func NewClientWithAPI(api s3iface.S3API) *Client {
	return &Client{s3: api}
}

// ObjectSize returns the content length of an S3 object.
func (c *Client) ObjectSize(ctx context.Context, bucket, key string) (int64, error) {
	output, err := c.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("getting S3 head object (bucket: %s)(key: %s): %w", bucket, key, err)
	}
	if output.ContentLength == nil {
		return 0, fmt.Errorf("S3 head object (bucket: %s)(key: %s) has no content length", bucket, key)
	}
	return aws.Int64Value(output.ContentLength), nil
}

// GetObjectRange returns the body of the inclusive byte range [start, end] of an S3 object.
// The caller must close the body.
func (c *Client) GetObjectRange(ctx context.Context, bucket, key string, start, end int64) (io.ReadCloser, error) {
	byteRange := fmt.Sprintf("bytes=%d-%d", start, end)
	output, err := c.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(byteRange),
	})
	if err != nil {
		return nil, fmt.Errorf("getting S3 object (bucket: %s)(key: %s)(range: %s): %w", bucket, key, byteRange, err)
	}
	return output.Body, nil
}
