package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	appconfig "docflow/internal/config"
)

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo carries the attributes the pipeline needs to make processing
// decisions without downloading the object.
type ObjectInfo struct {
	Key         string
	SizeBytes   int64
	ContentType string
}

// ObjectStore is the binary content collaborator. Processors read document
// bytes and write derived artifacts (thumbnails, split PDFs) through it.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	GetObjectBytes(ctx context.Context, key string) ([]byte, error)
	UploadBuffer(ctx context.Context, key string, data []byte, contentType string) error
	CopyObject(ctx context.Context, srcKey, dstKey string) error
	DeleteObject(ctx context.Context, key string) error
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
	GetPresignedUploadURL(ctx context.Context, key string, contentType string) (string, error)
	GetPresignedDownloadURL(ctx context.Context, key string) (string, error)
	Bucket() string
	TestConnection(ctx context.Context) error
}

type objectStore struct {
	s3       *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	bucket   string
	region   string
	expiry   time.Duration
}

// NewObjectStore builds an S3-backed ObjectStore from static credentials.
func NewObjectStore(cfg appconfig.S3Config) (ObjectStore, error) {
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg)

	return &objectStore{
		s3:       client,
		presign:  s3.NewPresignClient(client),
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		expiry:   time.Duration(cfg.PresignExpiry) * time.Second,
	}, nil
}

func (s *objectStore) Bucket() string {
	return s.bucket
}

// GetObject streams an object's content. The caller owns closing the reader.
func (s *objectStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to get object")
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}

	return out.Body, nil
}

// GetObjectBytes fetches the whole object into memory. Used for content that
// must be decoded in place (images, PDFs).
func (s *objectStore) GetObjectBytes(ctx context.Context, key string) ([]byte, error) {
	body, err := s.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}

	log.Debug().Str("key", key).Int("size", len(data)).Msg("Fetched object")
	return data, nil
}

// UploadBuffer writes a derived artifact. Keys are deterministic per job so
// re-running a processor overwrites instead of duplicating.
func (s *objectStore) UploadBuffer(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Int("size", len(data)).Msg("Failed to upload object")
		return fmt.Errorf("upload object %s: %w", key, err)
	}

	log.Debug().Str("key", key).Int("size", len(data)).Str("contentType", contentType).Msg("Uploaded object")
	return nil
}

func (s *objectStore) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.s3.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		log.Error().Err(err).Str("src", srcKey).Str("dst", dstKey).Msg("Failed to copy object")
		return fmt.Errorf("copy object %s -> %s: %w", srcKey, dstKey, err)
	}

	return nil
}

func (s *objectStore) DeleteObject(ctx context.Context, key string) error {
	_, err := s.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to delete object")
		return fmt.Errorf("delete object %s: %w", key, err)
	}

	return nil
}

// HeadObject returns size and content type, feeding the OCR sync/async
// decision without a download.
func (s *objectStore) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := s.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to head object")
		return nil, fmt.Errorf("head object %s: %w", key, err)
	}

	info := &ObjectInfo{Key: key}
	if out.ContentLength != nil {
		info.SizeBytes = *out.ContentLength
	}
	if out.ContentType != nil {
		info.ContentType = *out.ContentType
	}

	return info, nil
}

func (s *objectStore) GetPresignedUploadURL(ctx context.Context, key string, contentType string) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to presign upload")
		return "", fmt.Errorf("presign upload %s: %w", key, err)
	}

	return req.URL, nil
}

func (s *objectStore) GetPresignedDownloadURL(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to presign download")
		return "", fmt.Errorf("presign download %s: %w", key, err)
	}

	return req.URL, nil
}

// TestConnection lists a single key to validate credentials and bucket access.
func (s *objectStore) TestConnection(ctx context.Context) error {
	_, err := s.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	})
	log.Err(err).Msg("S3 connection test")

	return err
}
