package storage

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Compile-time check that S3Storage implements Storage.
var _ Storage = (*S3Storage)(nil)

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Storage persists assets in an S3 bucket.
type S3Storage struct {
	client *s3.Client
	bucket string
	region string
	dl     downloader
}

// NewS3Storage creates a new S3Storage instance.
func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	configOpts = append(configOpts, awsconfig.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Storage{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		region: cfg.Region,
		dl:     newDownloader(),
	}, nil
}

// Store downloads the source and uploads it under <category>/<filename>.
func (s *S3Storage) Store(ctx context.Context, sourceURL, category string) (AssetInfo, error) {
	src, mimeType, err := s.dl.fetch(ctx, sourceURL)
	if err != nil {
		return AssetInfo{}, err
	}
	defer func() {
		_ = src.Close()
		_ = os.Remove(src.Name())
	}()

	stat, err := src.Stat()
	if err != nil {
		return AssetInfo{}, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	filename := newFilename(mimeType)
	key := path.Join(category, filename)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        src,
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return AssetInfo{}, fmt.Errorf("%w: upload to S3: %v", ErrStoreFailed, err)
	}

	return AssetInfo{
		URL:       fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key),
		Filename:  filename,
		MimeType:  mimeType,
		SizeBytes: stat.Size(),
	}, nil
}

// Delete removes a stored asset from the bucket.
func (s *S3Storage) Delete(ctx context.Context, info AssetInfo) error {
	prefix := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", s.bucket, s.region)
	key := info.URL
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		key = key[len(prefix):]
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete from S3: %w", err)
	}
	return nil
}
