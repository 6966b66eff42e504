package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docshare/drive/internal/config"
	"github.com/docshare/drive/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOClient stores blobs as objects in a MinIO or S3 bucket.
type MinIOClient struct {
	client *minio.Client
	bucket string
}

// NewMinIOClient connects with static keys, or with IAM credentials when no
// access key is configured (S3 deployments on instance roles).
func NewMinIOClient(cfg config.MinIOConfig) (*MinIOClient, error) {
	var creds *credentials.Credentials
	if cfg.AccessKey == "" {
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOClient{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

func (m *MinIOClient) Put(ctx context.Context, ref string, r io.Reader, size int64, contentType string) error {
	info, err := m.client.PutObject(ctx, m.bucket, ref, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err == nil && info.Size != size {
		err = fmt.Errorf("size mismatch: expected %d bytes, stored %d", size, info.Size)
		_ = m.client.RemoveObject(context.WithoutCancel(ctx), m.bucket, ref, minio.RemoveObjectOptions{})
	}
	if err != nil {
		logger.Error("minio_put_failed", err, map[string]interface{}{
			"object_name":  ref,
			"size":         size,
			"content_type": contentType,
			"bucket":       m.bucket,
		})
		return err
	}
	logger.Info("minio_put_success", map[string]interface{}{
		"object_name":  ref,
		"size":         size,
		"content_type": contentType,
		"bucket":       m.bucket,
	})
	return nil
}

func (m *MinIOClient) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		logger.Error("minio_get_failed", err, map[string]interface{}{
			"object_name": ref,
			"bucket":      m.bucket,
		})
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, ErrBlobNotFound
		}
		logger.Error("minio_get_stat_failed", err, map[string]interface{}{
			"object_name": ref,
			"bucket":      m.bucket,
		})
		return nil, err
	}
	return obj, nil
}

func (m *MinIOClient) Delete(ctx context.Context, ref string) error {
	err := m.client.RemoveObject(ctx, m.bucket, ref, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		logger.Error("minio_delete_failed", err, map[string]interface{}{
			"object_name": ref,
			"bucket":      m.bucket,
		})
		return err
	}
	logger.Info("minio_delete_success", map[string]interface{}{
		"object_name": ref,
		"bucket":      m.bucket,
	})
	return nil
}

func (m *MinIOClient) Exists(ctx context.Context, ref string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, ref, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, err
}

func (m *MinIOClient) Copy(ctx context.Context, ref, newRef string) error {
	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: newRef},
		minio.CopySrcOptions{Bucket: m.bucket, Object: ref},
	)
	if err != nil {
		if isNoSuchKey(err) {
			return ErrBlobNotFound
		}
		logger.Error("minio_copy_failed", err, map[string]interface{}{
			"object_name": ref,
			"target_name": newRef,
			"bucket":      m.bucket,
		})
		return err
	}
	logger.Info("minio_copy_success", map[string]interface{}{
		"object_name": ref,
		"target_name": newRef,
		"bucket":      m.bucket,
	})
	return nil
}

// Rename is a server-side copy followed by removal of the source; S3 has no
// native rename.
func (m *MinIOClient) Rename(ctx context.Context, ref, newRef string) error {
	if ref == newRef {
		return nil
	}
	taken, err := m.Exists(ctx, newRef)
	if err != nil {
		return err
	}
	if taken {
		return ErrBlobExists
	}
	if err := m.Copy(ctx, ref, newRef); err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		_ = m.client.RemoveObject(context.WithoutCancel(ctx), m.bucket, newRef, minio.RemoveObjectOptions{})
		logger.Error("minio_rename_failed", err, map[string]interface{}{
			"object_name": ref,
			"target_name": newRef,
			"bucket":      m.bucket,
		})
		return err
	}
	return nil
}

func (m *MinIOClient) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed creating bucket %s: %w", m.bucket, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

var _ BlobStore = (*MinIOClient)(nil)
