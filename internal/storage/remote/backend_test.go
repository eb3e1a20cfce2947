package remote

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/metalalive/transcoder-core/internal/domain"
)

type fakeClient struct {
	objects map[string][]byte
}

func (f *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	var out s3.ListObjectsV2Output
	seen := map[string]bool{}
	for key := range f.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if idx := strings.Index(rest, "/"); idx >= 0 {
			cp := prefix + rest[:idx+1]
			if !seen[cp] {
				seen[cp] = true
				out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
			}
			continue
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return &out, nil
}

func TestWriteThenOpenRoundTrips(t *testing.T) {
	client := &fakeClient{objects: make(map[string][]byte)}
	b := NewBackend(client, "bucket", "s3-committed", "")

	if err := b.Write(context.Background(), "res1/v1/init.mp4", strings.NewReader("hello")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	rc, err := b.Open(context.Background(), "res1/v1/init.mp4")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
}

func TestOpenMissingKeyReturnsNotFound(t *testing.T) {
	client := &fakeClient{objects: make(map[string][]byte)}
	b := NewBackend(client, "bucket", "s3-committed", "")

	_, err := b.Open(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScandirGroupsImmediateChildren(t *testing.T) {
	client := &fakeClient{objects: map[string][]byte{
		"res1/v1/init.mp4": []byte("a"),
		"res1/v2/init.mp4": []byte("b"),
	}}
	b := NewBackend(client, "bucket", "s3-committed", "")

	names, err := b.Scandir(context.Background(), "res1")
	if err != nil {
		t.Fatalf("scandir failed: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 version prefixes, got %v", names)
	}
}
