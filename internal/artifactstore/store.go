package artifactstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultRegion = "us-east-1"

// Config locates the bucket that receives published deliverables.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (c Config) missing() []string {
	var out []string
	for _, f := range []struct{ name, value string }{
		{"endpoint", c.Endpoint},
		{"access key", c.AccessKey},
		{"secret key", c.SecretKey},
		{"bucket", c.Bucket},
	} {
		if strings.TrimSpace(f.value) == "" {
			out = append(out, f.name)
		}
	}
	return out
}

// Store uploads the files a run produced, keyed "<runID>/<file name>".
type Store struct {
	client *minio.Client
	bucket string
	region string

	mu    sync.Mutex
	ready bool
}

// Open validates cfg and prepares a client. No request is made until the
// first upload.
func Open(cfg Config) (*Store, error) {
	if missing := cfg.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("artifact store: missing %s", strings.Join(missing, ", "))
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}
	client, err := minio.New(strings.TrimSpace(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	return &Store{client: client, bucket: strings.TrimSpace(cfg.Bucket), region: region}, nil
}

// prepareBucket creates the bucket on first use. A failed attempt is retried
// by the next upload.
func (s *Store) prepareBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return err
		}
	}
	s.ready = true
	return nil
}

// PutFile streams the file at localPath to the bucket under the run's prefix.
func (s *Store) PutFile(ctx context.Context, runID, localPath string) error {
	if s == nil || s.client == nil {
		return errors.New("artifact store: not opened")
	}
	key, err := deliverableKey(runID, localPath)
	if err != nil {
		return err
	}
	if err := s.prepareBucket(ctx); err != nil {
		return fmt.Errorf("artifact store: bucket %s: %w", s.bucket, err)
	}
	_, err = s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType:  contentType(localPath),
		UserMetadata: map[string]string{"run-id": strings.TrimSpace(runID)},
	})
	if err != nil {
		return fmt.Errorf("artifact store: upload %s: %w", key, err)
	}
	return nil
}

func deliverableKey(runID, localPath string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return "", errors.New("artifact store: run id is required")
	}
	name := filepath.Base(strings.TrimSpace(localPath))
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("artifact store: no file name in %q", localPath)
	}
	return runID + "/" + name, nil
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return "application/xml"
	case ".il":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
