package publish_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/rlibfactory/rlibfactory/pkg/publish"
	"github.com/rlibfactory/rlibfactory/pkg/types"
)

type fakeStore struct {
	mu        sync.Mutex
	exists    bool
	existsErr error
	made      []string
	objects   map[string]string
	failKeys  map[string]error
}

func newFakeStore(exists bool) *fakeStore {
	return &fakeStore{exists: exists, objects: map[string]string{}, failKeys: map[string]error{}}
}

func (f *fakeStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeStore) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.made = append(f.made, bucket)
	return nil
}

func (f *fakeStore) FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failKeys[object]; err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[object] = filePath
	return minio.UploadInfo{Bucket: bucket, Key: object}, nil
}

func validConfig() types.PublishConfig {
	return types.PublishConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "b",
		Region:    "us-east-1",
		Bucket:    "rlibs",
		Prefix:    "/factory/",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *types.PublishConfig)
		field  string
	}{
		{"valid", func(c *types.PublishConfig) {}, ""},
		{"scheme in endpoint", func(c *types.PublishConfig) { c.Endpoint = "http://localhost:9000" }, "publish.endpoint"},
		{"missing endpoint", func(c *types.PublishConfig) { c.Endpoint = "" }, "publish.endpoint"},
		{"missing access key", func(c *types.PublishConfig) { c.AccessKey = "" }, "publish.access_key"},
		{"missing secret key", func(c *types.PublishConfig) { c.SecretKey = " " }, "publish.secret_key"},
		{"missing bucket", func(c *types.PublishConfig) { c.Bucket = "" }, "publish.bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := publish.Validate(cfg)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			var cfgErr *types.ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Field != tt.field {
				t.Errorf("Expected configuration error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	p := publish.NewWithStore(validConfig(), newFakeStore(true), nil)

	if got := p.SummaryKey("run_1", "/state/run-20260101-000000.summary"); got != "factory/run_1/run-20260101-000000.summary" {
		t.Errorf("Unexpected summary key %s", got)
	}
	if got := p.LogKey("run_1", "borsh"); got != "factory/run_1/logs/borsh.log" {
		t.Errorf("Unexpected log key %s", got)
	}

	noPrefix := validConfig()
	noPrefix.Prefix = ""
	p = publish.NewWithStore(noPrefix, newFakeStore(true), nil)
	if got := p.LogKey("run_1", "borsh"); got != "run_1/logs/borsh.log" {
		t.Errorf("Unexpected log key without prefix %s", got)
	}
}

func TestPublishRun(t *testing.T) {
	dir := t.TempDir()
	summaryPath := filepath.Join(dir, "run-x.summary")
	logPath := filepath.Join(dir, "serde.log")
	for _, p := range []string{summaryPath, logPath} {
		if err := os.WriteFile(p, []byte("data\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("uploads summary and logs", func(t *testing.T) {
		store := newFakeStore(false)
		p := publish.NewWithStore(validConfig(), store, nil)

		res, err := p.PublishRun(context.Background(), "run_1", summaryPath,
			map[types.CrateID]string{"serde": logPath, "empty": ""})
		if err != nil {
			t.Fatalf("PublishRun() error: %v", err)
		}
		if len(store.made) != 1 || store.made[0] != "rlibs" {
			t.Errorf("Expected bucket to be created, got %v", store.made)
		}
		want := []string{"factory/run_1/logs/serde.log", "factory/run_1/run-x.summary"}
		if len(res.Uploaded) != len(want) {
			t.Fatalf("Expected %v, got %v", want, res.Uploaded)
		}
		for i := range want {
			if res.Uploaded[i] != want[i] {
				t.Errorf("Upload %d: expected %s, got %s", i, want[i], res.Uploaded[i])
			}
		}
	})

	t.Run("individual failures are collected", func(t *testing.T) {
		store := newFakeStore(true)
		store.failKeys["factory/run_1/logs/serde.log"] = errors.New("denied")
		p := publish.NewWithStore(validConfig(), store, nil)

		res, err := p.PublishRun(context.Background(), "run_1", summaryPath,
			map[types.CrateID]string{"serde": logPath})
		if err != nil {
			t.Fatalf("PublishRun() error: %v", err)
		}
		if len(res.Failed) != 1 || len(res.Uploaded) != 1 {
			t.Errorf("Unexpected result %+v", res)
		}
		if len(store.made) != 0 {
			t.Error("Existing bucket must not be recreated")
		}
	})

	t.Run("bucket check failure aborts", func(t *testing.T) {
		store := newFakeStore(false)
		store.existsErr = errors.New("unreachable")
		p := publish.NewWithStore(validConfig(), store, nil)

		if _, err := p.PublishRun(context.Background(), "run_1", summaryPath, nil); err == nil {
			t.Error("Expected error")
		}
		if len(store.objects) != 0 {
			t.Error("Nothing should be uploaded")
		}
	})
}
