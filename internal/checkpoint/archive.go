package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/david/opportunity-monitor/internal/config"
)

// Archiver copies a finished run somewhere outside the local disk.
type Archiver interface {
	Archive(ctx context.Context, run *Run) error
}

// MinioArchiver uploads run files to <bucket>/<run-id>/<file>.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	log    *zap.SugaredLogger
}

func NewMinioArchiver(cfg config.MinioConfig) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioArchiver{client: client, bucket: cfg.Bucket, log: zap.S().Named("archive")}, nil
}

func (a *MinioArchiver) Archive(ctx context.Context, run *Run) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", a.bucket, err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
		}
	}

	files, err := archivableFiles(run.Dir())
	if err != nil {
		return err
	}
	for _, name := range files {
		object := objectName(run.ID(), name)
		_, err := a.client.FPutObject(ctx, a.bucket, object, filepath.Join(run.Dir(), name),
			minio.PutObjectOptions{ContentType: "application/json"})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", object, err)
		}
	}
	a.log.Infow("run archived", "run_id", run.ID(), "bucket", a.bucket, "files", len(files))
	return nil
}

// archivableFiles lists the regular files of a run, without the lock and
// temp files.
func archivableFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list run directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == lockFile {
			continue
		}
		if matched, _ := filepath.Match("*.tmp-*", name); matched {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func objectName(runID, file string) string {
	return path.Join(runID, file)
}
