package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"southwinds.dev/locker/internal/debug"
)

const ctxTimeout = 10 * time.Second

// S3Store keeps records in an S3-compatible bucket. Intended for fleet
// deployments that archive crash and metrics records off the device; all
// payloads arrive already encrypted.
type S3Store struct {
	client     *minio.Client
	bucketName string
	keyPrefix  string
}

type S3Config struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Bucket          string `json:"bucket"`
	KeyPrefix       string `json:"key_prefix,omitempty"`
	UseSSL          bool   `json:"use_ssl"`
	Region          string `json:"region,omitempty"`
}

func NewS3Store(config S3Config) (*S3Store, error) {
	if config.Endpoint == "" || config.Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires 'endpoint' and 'bucket' in config")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &S3Store{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  config.KeyPrefix,
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()
	if err = store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return store, nil
}

func NewS3StoreFromConfig(config StoreConfig) (*S3Store, error) {
	if config.Type != StoreTypeS3 {
		return nil, fmt.Errorf("invalid store type for MinIO: %s", config.Type)
	}
	configBytes, err := json.Marshal(config.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var s3Config S3Config
	if err = json.Unmarshal(configBytes, &s3Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal S3 config: %w", err)
	}
	return NewS3Store(s3Config)
}

func (s3s *S3Store) ensureBucket(ctx context.Context) error {
	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err = s3s.client.MakeBucket(ctx, s3s.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (s3s *S3Store) objectName(key string) string {
	if s3s.keyPrefix == "" {
		return key
	}
	return strings.TrimSuffix(s3s.keyPrefix, "/") + "/" + key
}

func (s3s *S3Store) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	object, err := s3s.client.GetObject(ctx, s3s.bucketName, s3s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minioErr := minio.ToErrorResponse(err); minioErr.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 read failed: %w", err)
	}
	return data, nil
}

func (s3s *S3Store) Set(key string, blob []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	debug.Print("putting object %s (%d bytes)\n", s3s.objectName(key), len(blob))
	_, err := s3s.client.PutObject(ctx, s3s.bucketName, s3s.objectName(key),
		bytes.NewReader(blob), int64(len(blob)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	return nil
}

func (s3s *S3Store) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err := s3s.client.RemoveObject(ctx, s3s.bucketName, s3s.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}

func (s3s *S3Store) List(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	objectPrefix := s3s.objectName(prefix)
	var keys []string
	for object := range s3s.client.ListObjects(ctx, s3s.bucketName, minio.ListObjectsOptions{
		Prefix:    objectPrefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("s3 list failed: %w", object.Err)
		}
		key := object.Key
		if s3s.keyPrefix != "" {
			key = strings.TrimPrefix(key, strings.TrimSuffix(s3s.keyPrefix, "/")+"/")
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s3s *S3Store) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if _, err := s3s.client.BucketExists(ctx, s3s.bucketName); err != nil {
		return fmt.Errorf("s3 unavailable: %w", err)
	}
	return nil
}

func (s3s *S3Store) Close() error { return nil }

func (s3s *S3Store) GetType() string { return string(StoreTypeS3) }

func (s3s *S3Store) MaxBlobSize() int { return 0 }
