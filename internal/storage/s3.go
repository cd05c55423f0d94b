package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "clinic-backend/internal/config"
)

var ErrUnsupportedContentType = errors.New("unsupported content type")

// allowedContentTypes 보드에 첨부 가능한 파일 형식
var allowedContentTypes = map[string]bool{
	"image/png":     true,
	"image/jpeg":    true,
	"image/gif":     true,
	"image/webp":    true,
	"image/svg+xml": true,
}

// PresignedUpload 업로드용 Presigned URL 정보
type PresignedUpload struct {
	URL       string    `json:"upload_url"`
	Key       string    `json:"key"`
	FileURL   string    `json:"file_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// S3Service 보드 에셋 업로드 URL 발급
type S3Service struct {
	presigner  *s3.PresignClient
	bucketName string
	region     string
	expiry     time.Duration
	now        func() time.Time
}

// NewS3Service S3 설정으로 S3Service 생성
func NewS3Service(ctx context.Context, cfg appconfig.S3Config) (*S3Service, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("S3 bucket name is not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	return &S3Service{
		presigner:  s3.NewPresignClient(s3.NewFromConfig(awsCfg)),
		bucketName: cfg.BucketName,
		region:     cfg.Region,
		expiry:     expiry,
		now:        time.Now,
	}, nil
}

// BoardAssetKey 보드 에셋 객체 키 (clinics/{clinicId}/boards/{uuid}{ext})
func BoardAssetKey(clinicID int64, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if len(ext) > 10 {
		ext = ""
	}
	return fmt.Sprintf("clinics/%d/boards/%s%s", clinicID, uuid.NewString(), ext)
}

// GenerateUploadURL 보드 에셋 PUT용 Presigned URL 생성
func (s *S3Service) GenerateUploadURL(ctx context.Context, clinicID int64, fileName, contentType string) (*PresignedUpload, error) {
	if !allowedContentTypes[contentType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}

	key := BoardAssetKey(clinicID, fileName)
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return nil, fmt.Errorf("presign put %s: %w", key, err)
	}

	return &PresignedUpload{
		URL:       req.URL,
		Key:       key,
		FileURL:   s.publicURL(key),
		ExpiresAt: s.now().Add(s.expiry),
	}, nil
}

func (s *S3Service) publicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucketName, s.region, key)
}
