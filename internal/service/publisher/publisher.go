package publisher

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oshokin/xbps-builder/internal/config"
	"github.com/oshokin/xbps-builder/internal/digest"
	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
	"github.com/oshokin/xbps-builder/internal/logger"
)

// ObjectStore is the part of the S3 API used for uploads.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher uploads package files to a bucket of an S3-compatible repository.
type Publisher struct {
	store  ObjectStore
	bucket string
	prefix string
}

// New returns a Publisher writing below prefix in bucket.
func New(store ObjectStore, bucket, prefix string) *Publisher {
	return &Publisher{
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// FromConfig creates an S3 client from the settings.
// It returns nil without error when publishing is not configured.
func FromConfig(ctx context.Context, cfg config.Publish) (*Publisher, error) {
	if cfg.Bucket == "" {
		return nil, nil //nolint:nilnil // Publishing is optional.
	}

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("load repository config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return New(client, cfg.Bucket, cfg.Prefix), nil
}

// Key returns the object key a local file is uploaded to.
func (p *Publisher) Key(file string) string {
	return path.Join(p.prefix, filepath.Base(file))
}

// Publish uploads the files in order and returns their object keys.
func (p *Publisher) Publish(ctx context.Context, files ...string) ([]string, error) {
	ctx = logger.WithName(ctx, "publisher")
	keys := make([]string, 0, len(files))

	for _, file := range files {
		key, err := p.upload(ctx, file)
		if err != nil {
			return keys, err
		}

		keys = append(keys, key)
	}

	return keys, nil
}

func (p *Publisher) upload(ctx context.Context, file string) (string, error) {
	sum, err := digest.File(file)
	if err != nil {
		return "", err
	}

	f, err := os.Open(filepath.Clean(file))
	if err != nil {
		return "", pkgerr.IO("open "+file, err)
	}

	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return "", pkgerr.IO("stat "+file, err)
	}

	key := p.Key(file)

	_, err = p.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(file)),
		Metadata:      map[string]string{"sha256": sum},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to s3://%s/%s: %w", filepath.Base(file), p.bucket, key, err)
	}

	logger.InfoKV(ctx, "Uploaded to repository", "bucket", p.bucket, "key", key, "size", info.Size())

	return key, nil
}

func contentType(file string) string {
	switch {
	case strings.HasSuffix(file, ".sig"):
		return "application/pgp-signature"
	default:
		return "application/octet-stream"
	}
}
