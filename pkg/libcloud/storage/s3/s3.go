// Package s3 stores uploaded media in an S3 bucket or an S3-compatible
// service such as MinIO.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/libcloud/pkg/libcloud"
)

const defaultRegion = "us-east-1"

// Config selects the bucket that holds media files.
type Config struct {
	Bucket string
	Region string

	// Static credentials; the default AWS chain is used when either is empty
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint points at an S3-compatible server. UsePathStyle is needed by
	// most of them.
	Endpoint     string
	UsePathStyle bool

	// Prefix is prepended to every media key
	Prefix string

	// Encryption is "", "AES256" or "aws:kms"
	Encryption string
	KMSKeyID   string

	CreateBucketIfNotExist bool
}

// Backend keeps media objects in a single bucket.
type Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	config   Config
}

// New connects to the bucket described by config.
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = defaultRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions(config)...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		}
	})
	b := &Backend{client: client, uploader: manager.NewUploader(client), config: config}

	if config.CreateBucketIfNotExist {
		if err := b.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func loadOptions(config Config) []func(*awsconfig.LoadOptions) error {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID == "" || config.SecretAccessKey == "" {
		return opts
	}
	creds := credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, "")
	return append(opts, awsconfig.WithCredentialsProvider(creds))
}

// key maps a media key to its object name in the bucket.
func (b *Backend) key(mediaKey string) string {
	prefix := strings.TrimSuffix(b.config.Prefix, "/")
	if prefix == "" {
		return mediaKey
	}
	return prefix + "/" + mediaKey
}

func (b *Backend) bucket() *string {
	return aws.String(b.config.Bucket)
}

// isNotFound reports whether err means the key or bucket is missing.
// MinIO returns generic API errors where S3 returns typed ones.
func isNotFound(err error) bool {
	var (
		notFound *types.NotFound
		noKey    *types.NoSuchKey
		apiErr   smithy.APIError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &noKey):
		return true
	case errors.As(err, &apiErr):
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "NoSuchBucket"
	}
	return false
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: b.bucket()})
	switch {
	case err == nil:
		return nil
	case !isNotFound(err) && !strings.Contains(err.Error(), "BadRequest"):
		return fmt.Errorf("head bucket %s: %w", b.config.Bucket, err)
	}

	input := &s3.CreateBucketInput{Bucket: b.bucket()}
	// us-east-1 rejects an explicit location constraint
	if b.config.Region != defaultRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}
	if _, err := b.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var taken *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &taken) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", b.config.Bucket, err)
	}
	return nil
}

func (b *Backend) missing(key string, err error, op string) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", key, libcloud.ErrFileNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

// GetObjectMeta reports the size and type of a stored media file.
func (b *Backend) GetObjectMeta(ctx context.Context, key string) (*libcloud.ObjectMeta, error) {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: b.bucket(),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return nil, b.missing(key, err, "head")
	}

	contentType := aws.ToString(head.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &libcloud.ObjectMeta{
		Key:         key,
		Size:        aws.ToInt64(head.ContentLength),
		ContentType: contentType,
		UpdatedAt:   aws.ToTime(head.LastModified),
	}, nil
}

func (b *Backend) encrypt(input *s3.PutObjectInput) {
	switch b.config.Encryption {
	case "AES256":
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if b.config.KMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(b.config.KMSKeyID)
		}
	}
}

// Upload streams reader into key using multipart uploads for large files.
func (b *Backend) Upload(ctx context.Context, key string, reader io.Reader) error {
	input := &s3.PutObjectInput{
		Bucket: b.bucket(),
		Key:    aws.String(b.key(key)),
		Body:   reader,
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		input.ContentType = aws.String(ct)
	}
	b.encrypt(input)

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Download opens the stored object for reading.
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: b.bucket(),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return nil, b.missing(key, err, "download")
	}
	return obj.Body, nil
}

// Delete removes key. Deleting a missing key is not an error on S3.
func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: b.bucket(),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
