package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// AudioPrefix is the key prefix of every stored recording. Keys double as the
// entry's local_path.
const AudioPrefix = "audio_files"

// AudioStore keeps uploaded recordings.
type AudioStore interface {
	Save(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (key string, written int64, err error)
	Delete(ctx context.Context, key string) error
}

// NewAudioKey builds a unique key such as audio_files/audio_1700000000000_1a2b3c4d.webm.
func NewAudioKey(filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filepath.Base(filename)))
	if ext == "" || len(ext) > 8 {
		ext = ".mp3"
	}
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s/audio_%d_%s%s", AudioPrefix, now.UnixMilli(), hex.EncodeToString(buf), ext)
}

// IsAudioKey reports whether key has the shape NewAudioKey produces.
func IsAudioKey(key string) bool {
	rest, ok := strings.CutPrefix(key, AudioPrefix+"/audio_")
	return ok && rest != "" && !strings.ContainsAny(rest, "/\\")
}

// MinioStore implements AudioStore on MinIO/S3 compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Save uploads a recording under a fresh key.
func (m *MinioStore) Save(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (string, int64, error) {
	key := NewAudioKey(filename, time.Now())
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", 0, fmt.Errorf("put object: %w", err)
	}
	return key, info.Size, nil
}

// Delete removes a recording.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// FileStore implements AudioStore on local disk.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(filepath.Join(basePath, AudioPrefix), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Save writes a recording under basePath/audio_files.
func (f *FileStore) Save(ctx context.Context, filename string, r io.Reader, _ int64, _ string) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	key := NewAudioKey(filename, time.Now())
	out, err := os.Create(f.resolve(key))
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	n, err := io.Copy(out, r)
	if err != nil {
		_ = os.Remove(out.Name())
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	return key, n, nil
}

// Delete removes a recording; a missing file is not an error.
func (f *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(f.resolve(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// resolve keeps keys inside basePath.
func (f *FileStore) resolve(key string) string {
	clean := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	return filepath.Join(f.basePath, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
}
