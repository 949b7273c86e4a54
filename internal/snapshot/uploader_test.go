package snapshot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stridehq/tether/internal/config"
)

// --- NoopUploader Tests ---

func TestNoopUploader_Upload_IsNoOp(t *testing.T) {
	u := &NoopUploader{}
	if err := u.Upload(context.Background(), "/some/path"); err != nil {
		t.Errorf("NoopUploader.Upload() should not error, got %v", err)
	}
	if u.Configured() {
		t.Error("NoopUploader.Configured() = true, want false")
	}
}

// --- NewUploader factory tests ---

func TestNewUploader_EmptyBucket_ReturnsNoopUploader(t *testing.T) {
	cfg := config.BackupConfig{
		Bucket: "", // Empty = not configured
	}

	u, err := NewUploader(cfg)
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}

	if _, ok := u.(*NoopUploader); !ok {
		t.Errorf("expected *NoopUploader, got %T", u)
	}
}

func TestNewUploader_WithBucket_ReturnsS3Uploader(t *testing.T) {
	boolTrue := true
	cfg := config.BackupConfig{
		Bucket:    "tether-backups",
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		UseSSL:    &boolTrue,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	}

	u, err := NewUploader(cfg)
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}

	s3u, ok := u.(*S3Uploader)
	if !ok {
		t.Fatalf("expected *S3Uploader, got %T", u)
	}
	if s3u.bucket != "tether-backups" {
		t.Errorf("bucket = %q, want %q", s3u.bucket, "tether-backups")
	}
	if !s3u.Configured() {
		t.Error("S3Uploader.Configured() = false, want true")
	}
}

// --- S3Uploader with mock client tests ---

// mockS3Client records calls and returns configured errors.
type mockS3Client struct {
	putErr     error
	putBucket  string
	putKey     string
	putPath    string
	putCalled  bool
}

func (m *mockS3Client) FPutObject(ctx context.Context, bucket, objectName, filePath string, opts interface{}) error {
	m.putCalled = true
	m.putBucket = bucket
	m.putKey = objectName
	m.putPath = filePath
	return m.putErr
}

func TestS3Uploader_Upload_Success(t *testing.T) {
	mock := &mockS3Client{}
	u := &S3Uploader{client: mock, bucket: "tether-backups"}

	err := u.Upload(context.Background(), "/data/tether.db")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if !mock.putCalled {
		t.Fatal("expected FPutObject to be called")
	}
	if mock.putBucket != "tether-backups" {
		t.Errorf("bucket = %q, want tether-backups", mock.putBucket)
	}
	if mock.putPath != "/data/tether.db" {
		t.Errorf("filePath = %q, want /data/tether.db", mock.putPath)
	}
	if !strings.HasPrefix(mock.putKey, "queue/backup/") || !strings.HasSuffix(mock.putKey, "/tether.db") {
		t.Errorf("objectKey = %q, want queue/backup/{date}/tether.db", mock.putKey)
	}
}

func TestS3Uploader_Upload_WrapsClientError(t *testing.T) {
	clientErr := errors.New("connection refused")
	mock := &mockS3Client{putErr: clientErr}
	u := &S3Uploader{client: mock, bucket: "tether-backups"}

	err := u.Upload(context.Background(), "/data/tether.db")
	if err == nil {
		t.Fatal("Upload() expected error, got nil")
	}
	if !errors.Is(err, clientErr) {
		t.Errorf("Upload() error = %v, want wrapped %v", err, clientErr)
	}
	if !strings.Contains(err.Error(), "upload queue backup") {
		t.Errorf("Upload() error = %v, want contextual message", err)
	}
}
