// Package remote implements a committed-storage backend backed by S3, used
// for the "committed" and "source" storage layouts named in spec.md §6.
package remote

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/metalalive/transcoder-core/internal/domain"
	"github.com/metalalive/transcoder-core/internal/metrics"
)

// Client is the subset of *s3.Client this backend depends on, narrowed for
// testability.
type Client interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Backend adapts an S3 bucket to ports.StorageBackend, using "/"-delimited
// keys as the directory model Scandir walks.
type Backend struct {
	client Client
	bucket string
	alias  string
	prefix string
}

func NewBackend(client Client, bucket, alias, prefix string) *Backend {
	return &Backend{client: client, bucket: bucket, alias: alias, prefix: strings.Trim(prefix, "/")}
}

func (b *Backend) Alias() string { return b.alias }

func (b *Backend) fullKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

func (b *Backend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.fullKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.NewKindError(domain.ErrKindStorage, "remote: get %s: %v", key, err)
	}
	if out.ContentLength != nil {
		metrics.StorageBytesTotal.WithLabelValues(b.alias, "read").Add(float64(*out.ContentLength))
	}
	return out.Body, nil
}

func (b *Backend) ReadChunk(ctx context.Context, key string, off int64, buf []byte) (int, error) {
	rangeHeader := rangeSpec(off, int64(len(buf)))
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.fullKey(key)),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, domain.ErrNotFound
		}
		return 0, domain.NewKindError(domain.ErrKindStorage, "remote: range-get %s: %v", key, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return n, io.EOF
	}
	if err != nil {
		return n, domain.NewKindError(domain.ErrKindStorage, "remote: read range body %s: %v", key, err)
	}
	metrics.StorageBytesTotal.WithLabelValues(b.alias, "read").Add(float64(n))
	return n, nil
}

func (b *Backend) Write(ctx context.Context, key string, r io.Reader) error {
	counted := &countingReader{r: r}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.fullKey(key)),
		Body:   counted,
	})
	if err != nil {
		return domain.NewKindError(domain.ErrKindStorage, "remote: put %s: %v", key, err)
	}
	metrics.StorageBytesTotal.WithLabelValues(b.alias, "write").Add(float64(counted.n))
	return nil
}

// countingReader tallies bytes read from the underlying reader so Write can
// record StorageBytesTotal without needing the body's length up front.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (b *Backend) Mkdir(ctx context.Context, dir string) error {
	// S3 has no directories; a key prefix materializes on first Write.
	return nil
}

func (b *Backend) Scandir(ctx context.Context, dir string) ([]string, error) {
	prefix := b.fullKey(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, domain.NewKindError(domain.ErrKindStorage, "remote: list %s: %v", dir, err)
	}

	var names []string
	for _, cp := range out.CommonPrefixes {
		names = append(names, immediateChild(prefix, aws.ToString(cp.Prefix)))
	}
	for _, obj := range out.Contents {
		names = append(names, immediateChild(prefix, aws.ToString(obj.Key)))
	}
	if len(names) == 0 {
		return nil, domain.ErrNotFound
	}
	return names, nil
}

func (b *Backend) Unlink(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.fullKey(key)),
	})
	if err != nil {
		return domain.NewKindError(domain.ErrKindStorage, "remote: delete %s: %v", key, err)
	}
	return nil
}

func immediateChild(prefix, full string) string {
	rest := strings.TrimPrefix(full, prefix)
	rest = strings.TrimSuffix(rest, "/")
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

func rangeSpec(off, length int64) string {
	if length <= 0 {
		return ""
	}
	return "bytes=" + itoa(off) + "-" + itoa(off+length-1)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}
