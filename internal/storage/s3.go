package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"collab-notes-backend/internal/config"
)

// S3Service 회의 첨부 파일 블롭 저장소
type S3Service struct {
	client        *s3.Client
	presign       *s3.PresignClient
	bucket        string
	region        string
	publicBaseURL string
	presignExpiry time.Duration
}

// PresignedUpload 업로드용 서명 URL
type PresignedUpload struct {
	URL string
	Key string
}

// NewS3Service S3 클라이언트 생성
func NewS3Service(cfg *config.S3Config) (*S3Service, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	log.Printf("[S3] Using bucket %s in %s", cfg.BucketName, cfg.Region)

	return &S3Service{
		client:        client,
		presign:       s3.NewPresignClient(client),
		bucket:        cfg.BucketName,
		region:        cfg.Region,
		publicBaseURL: cfg.PublicBaseURL,
		presignExpiry: cfg.PresignExpiry,
	}, nil
}

// ObjectKey 충돌 없는 저장 키 생성
func ObjectKey(meetingID, fileName string) string {
	return path.Join("meetings", meetingID, uuid.NewString()+"-"+fileName)
}

// Upload stores a blob and returns its storage key.
func (s *S3Service) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Remove deletes a blob.
func (s *S3Service) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// GetPublicURL public URL for a stored blob.
func (s *S3Service) GetPublicURL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// GenerateUploadURL presigned PUT URL so large files can bypass the API.
func (s *S3Service) GenerateUploadURL(ctx context.Context, meetingID, fileName, contentType string) (*PresignedUpload, error) {
	key := ObjectKey(meetingID, fileName)
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.presignExpiry))
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", key, err)
	}
	return &PresignedUpload{URL: req.URL, Key: key}, nil
}

// GenerateDownloadURL presigned GET URL for a private blob.
func (s *S3Service) GenerateDownloadURL(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignExpiry))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", key, err)
	}
	return req.URL, nil
}
