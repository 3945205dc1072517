package s3

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"

	"rentlane/internal/reservation/domain"
)

// ContractStore implements domain.ContractStore on an S3 bucket.
// Documents are written server-side encrypted and never public.
type ContractStore struct {
	uploader s3manageriface.UploaderAPI
	bucket   string
}

// NewSession creates an AWS session for region. A non-empty endpoint points
// the client at an S3-compatible store and switches to path-style addressing.
func NewSession(region, endpoint string) (*session.Session, error) {
	cfg := &aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return sess, nil
}

// NewContractStore creates a ContractStore uploading through sess.
func NewContractStore(sess *session.Session, bucket string) *ContractStore {
	return NewContractStoreWithUploader(s3manager.NewUploader(sess), bucket)
}

// NewContractStoreWithUploader creates a ContractStore over an existing uploader.
func NewContractStoreWithUploader(uploader s3manageriface.UploaderAPI, bucket string) *ContractStore {
	return &ContractStore{uploader: uploader, bucket: bucket}
}

// Put uploads doc under key and returns its s3:// reference.
// Uploading the same key again replaces the previous version.
func (s *ContractStore) Put(ctx context.Context, key string, doc []byte, contentType string) (string, error) {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(doc),
		ContentType:          aws.String(contentType),
		ServerSideEncryption: aws.String("AES256"),
	})
	if err != nil {
		return "", fmt.Errorf("upload contract %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

var _ domain.ContractStore = (*ContractStore)(nil)
