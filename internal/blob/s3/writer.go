package s3blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// minPartSize is the minimum allowed part size for S3 multipart uploads (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter using an S3-compatible backend.
type Writer struct {
	c *Client
}

// NewWriter creates a Writer that uploads under the client's prefix.
func NewWriter(c *Client) *Writer {
	return &Writer{c: c}
}

// Put uploads data with a single PutObject request. Pass reports go
// through here.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.c.bucket),
		Key:         aws.String(w.c.key(path)),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data through the multipart upload manager. data may
// be an unbounded reader such as a pipe; partSize is clamped to the 5 MiB
// S3 minimum.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}
	uploader := manager.NewUploader(w.c.s3, func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	input := &s3.PutObjectInput{
		Bucket: aws.String(w.c.bucket),
		Key:    aws.String(w.c.key(path)),
		Body:   data,
	}
	if strings.HasSuffix(path, ".jsonl") {
		input.ContentType = aws.String(contentTypeJSONL)
	}

	if _, err := uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
