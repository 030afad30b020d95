package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// Reader implements domain.BlobReader. The archiver uses it to find the
// newest pass report after a restart.
type Reader struct {
	c *Client
}

// NewReader creates a Reader over the client's bucket and prefix.
func NewReader(c *Client) *Reader {
	return &Reader{c: c}
}

// Get opens the object at path. The caller closes the returned body.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := r.c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.c.bucket),
		Key:    aws.String(r.c.key(path)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

// List returns every object under prefix in lexical key order. Paths are
// reported without the client's namespace.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	pages := s3.NewListObjectsV2Paginator(r.c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.c.bucket),
		Prefix: aws.String(r.c.key(prefix)),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			infos = append(infos, domain.BlobInfo{
				Path:         r.c.path(aws.ToString(obj.Key)),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return infos, nil
}

// isNotFound matches NoSuchKey, NotFound and bare 404 responses from
// S3-compatible providers.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.BlobReader = (*Reader)(nil)
