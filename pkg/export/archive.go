package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Archiver copies export files into an S3 bucket. A nil Archiver is a
// no-op, so callers can wire it unconditionally and leave the bucket unset.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewArchiver(ctx context.Context, bucket, prefix string) (*Archiver, error) {
	if bucket == "" {
		return nil, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: cfg.BaseEndpoint,
		UsePathStyle: true,
	})
	return &Archiver{client: client, bucket: bucket, prefix: prefix}, nil
}

// Upload stores data under prefix/name and returns the object key.
func (a *Archiver) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if a == nil {
		return "", nil
	}
	key := path.Join(a.prefix, name)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}

// UploadFile reads a local export and stores it under its base name.
func (a *Archiver) UploadFile(ctx context.Context, localPath string) (string, error) {
	if a == nil {
		return "", nil
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read export %s: %w", localPath, err)
	}
	return a.Upload(ctx, filepath.Base(localPath), data, contentTypeFor(localPath))
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
