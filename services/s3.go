package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"docconvert/config"
	"docconvert/models"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3ArtifactStore keeps artifacts as objects under a key prefix. References
// are object keys.
type S3ArtifactStore struct {
	client   *s3.S3
	bucket   string
	prefix   string
	uploader *s3manager.Uploader
}

func NewS3ArtifactStore(cfg *config.Config) (*S3ArtifactStore, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWSS3AccessKey,
			cfg.AWSS3SecretKey,
			"",
		),
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	return &S3ArtifactStore{
		client:   s3.New(sess),
		bucket:   cfg.S3Bucket,
		prefix:   cfg.S3Prefix,
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (s *S3ArtifactStore) Store(ctx context.Context, data []byte, nameHint string) (string, error) {
	name, err := cleanArtifactName(nameHint)
	if err != nil {
		return "", err
	}
	key := s.prefix + name

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(name)),
	})
	if err != nil {
		return "", &models.StorageError{Op: "upload to S3", Err: err}
	}

	return key, nil
}

func (s *S3ArtifactStore) Read(ctx context.Context, ref string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return nil, &models.StorageError{Op: "download from S3", Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &models.StorageError{Op: "download from S3", Err: err}
	}
	return data, nil
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
