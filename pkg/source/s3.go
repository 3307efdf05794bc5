package source

import (
	"context"
	"fmt"
	"io"

	"github.com/alec-rabold/zipspy/pkg/aws"
)

// S3 is a ByteSource over an S3 object. Each ReadAt issues one ranged GET,
// so only the byte ranges the archive reader needs are downloaded.
type S3 struct {
	client *aws.Client
	ctx    context.Context
	bucket string
	key    string
	size   int64
}

// NewS3 returns an S3 source for bucket/key. The object size is fetched with
// a HEAD request. ctx bounds the HEAD and every later range request.
func NewS3(ctx context.Context, client *aws.Client, bucket, key string) (*S3, error) {
	size, err := client.ObjectSize(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return &S3{
		client: client,
		ctx:    ctx,
		bucket: bucket,
		key:    key,
		size:   size,
	}, nil
}

// Size returns the object's content length.
func (s *S3) Size() int64 { return s.size }

// ReadAt reads len(p) bytes starting at off with a single range request.
func (s *S3) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	end := off + int64(len(p)) - 1
	expected := len(p)
	if end >= s.size {
		end = s.size - 1
		expected = int(end - off + 1)
	}

	body, err := s.client.GetObjectRange(s.ctx, s.bucket, s.key, off, end)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := io.ReadFull(body, p[:expected])
	if err != nil {
		return n, err
	}
	if expected < len(p) {
		return n, io.EOF
	}
	return n, nil
}
