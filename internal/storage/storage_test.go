package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/example/petri-split/internal/config"
	"github.com/example/petri-split/internal/logging"
)

type stubPutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (s *stubPutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.inputs = append(s.inputs, params)
	body, _ := io.ReadAll(params.Body)
	s.bodies = append(s.bodies, body)
	if s.err != nil {
		return nil, s.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestUploadPutsObjectAndReturnsURL(t *testing.T) {
	putter := &stubPutter{}
	cfg := config.StorageConfig{Bucket: "dishes", Prefix: "splits", PublicBaseURL: "https://cdn.example.com/"}
	uploader := NewUploader(putter, cfg, zap.NewNop())

	url, err := uploader.Upload(context.Background(), "obs-left.jpg", []byte("left"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if url != "https://cdn.example.com/splits/obs-left.jpg" {
		t.Fatalf("unexpected url: %s", url)
	}
	if len(putter.inputs) != 1 {
		t.Fatalf("expected 1 put, got %d", len(putter.inputs))
	}
	in := putter.inputs[0]
	if aws.ToString(in.Bucket) != "dishes" || aws.ToString(in.Key) != "splits/obs-left.jpg" {
		t.Fatalf("unexpected target %s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key))
	}
	if aws.ToString(in.ContentType) != ContentType {
		t.Fatalf("unexpected content type: %s", aws.ToString(in.ContentType))
	}
	if string(putter.bodies[0]) != "left" {
		t.Fatalf("unexpected body: %q", putter.bodies[0])
	}
}

func TestUploadWrapsErrors(t *testing.T) {
	cause := errors.New("access denied")
	uploader := NewUploader(&stubPutter{err: cause}, config.StorageConfig{Bucket: "dishes"}, zap.NewNop())

	_, err := uploader.Upload(context.Background(), "obs.jpg", []byte("x"))
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "storage.put_object" || !errors.Is(err, cause) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPublicBaseURL(t *testing.T) {
	cases := []struct {
		cfg  config.StorageConfig
		want string
	}{
		{cfg: config.StorageConfig{Bucket: "b", PublicBaseURL: "https://cdn.example.com"}, want: "https://cdn.example.com"},
		{cfg: config.StorageConfig{Bucket: "b", Endpoint: "http://minio:9000/"}, want: "http://minio:9000/b"},
		{cfg: config.StorageConfig{Bucket: "b", Region: "eu-west-1"}, want: "https://b.s3.eu-west-1.amazonaws.com"},
	}
	for _, tc := range cases {
		if got := publicBaseURL(tc.cfg); got != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, got)
		}
	}
}

func TestKeyWithoutPrefix(t *testing.T) {
	uploader := NewUploader(&stubPutter{}, config.StorageConfig{Bucket: "b"}, zap.NewNop())
	if got := uploader.Key("/obs.jpg"); got != "obs.jpg" {
		t.Fatalf("unexpected key: %s", got)
	}
}

func TestUploadEscapesURLSegments(t *testing.T) {
	putter := &stubPutter{}
	cfg := config.StorageConfig{Bucket: "dishes", Prefix: "run 7", PublicBaseURL: "https://cdn.example.com"}
	uploader := NewUploader(putter, cfg, zap.NewNop())

	url, err := uploader.Upload(context.Background(), "obs 1?#.jpg", []byte("x"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if url != "https://cdn.example.com/run%207/obs%201%3F%23.jpg" {
		t.Fatalf("unexpected url: %s", url)
	}
	if key := aws.ToString(putter.inputs[0].Key); key != "run 7/obs 1?#.jpg" {
		t.Fatalf("expected the raw key to be stored, got %s", key)
	}
}
