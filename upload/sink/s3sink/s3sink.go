// Package s3sink stores every upload attempt as a set of objects in an S3 compatible bucket.
package s3sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-chunkupload/upload"
	"github.com/bitrise-io/go-chunkupload/upload/sink/codec"
	"github.com/bitrise-io/go-utils/v2/log"
)

// DefaultPrefix is the key prefix of all upload objects.
const DefaultPrefix = "uploads"

// Params ...
type Params struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	// Compression is applied to chunk objects and advertised as their Content-Encoding.
	Compression codec.Codec
}

// Error codes that another attempt can't fix.
var permanentCodes = map[string]bool{
	"AccessDenied":          true,
	"AllAccessDisabled":     true,
	"EntityTooLarge":        true,
	"InvalidAccessKeyId":    true,
	"InvalidBucketName":     true,
	"NoSuchBucket":          true,
	"SignatureDoesNotMatch": true,
}

type objectPutter interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type metaDocument struct {
	URI     string   `json:"uri"`
	Caption string   `json:"caption"`
	Tags    []string `json:"tags"`
}

// Sink ...
type Sink struct {
	putter objectPutter
	bucket string
	prefix string
	codec  codec.Codec
	logger log.Logger
}

// New loads AWS credentials and creates a Sink for params.Bucket.
// A custom Endpoint switches to path-style addressing for S3 compatible stores.
func New(ctx context.Context, params Params, logger log.Logger) (*Sink, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newSink(manager.NewUploader(client), params, logger), nil
}

func newSink(putter objectPutter, params Params, logger log.Logger) *Sink {
	prefix := params.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	chunkCodec := params.Compression
	if chunkCodec == nil {
		chunkCodec = codec.Identity
	}
	return &Sink{
		putter: putter,
		bucket: params.Bucket,
		prefix: prefix,
		codec:  chunkCodec,
		logger: logger,
	}
}

// WriteMetadata ...
func (s *Sink) WriteMetadata(ctx context.Context, ref upload.ObjectRef, metadata upload.Metadata) error {
	tags := metadata.Tags
	if tags == nil {
		tags = []string{}
	}
	body, err := json.Marshal(metaDocument{URI: ref.Item.String(), Caption: metadata.Caption, Tags: tags})
	if err != nil {
		return err
	}
	return s.put(ctx, &s3.PutObjectInput{
		Key:         aws.String(s.key(ref, "meta.json")),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}, int64(len(body)))
}

// WriteChunk ...
func (s *Sink) WriteChunk(ctx context.Context, ref upload.ObjectRef, index int, payload []byte) error {
	encoded, err := s.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("encode chunk %d: %w", index, err)
	}

	input := &s3.PutObjectInput{
		Key:         aws.String(s.key(ref, "chunks", fmt.Sprintf("%08d", index))),
		Body:        bytes.NewReader(encoded),
		ContentType: aws.String("application/octet-stream"),
	}
	if s.codec != codec.Identity {
		input.ContentEncoding = aws.String(s.codec.Name())
	}
	return s.put(ctx, input, int64(len(encoded)))
}

// WriteTerminalMarker ...
func (s *Sink) WriteTerminalMarker(ctx context.Context, ref upload.ObjectRef) error {
	body := []byte("complete")
	return s.put(ctx, &s3.PutObjectInput{
		Key:         aws.String(s.key(ref, "status")),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/plain"),
	}, int64(len(body)))
}

func (s *Sink) put(ctx context.Context, input *s3.PutObjectInput, size int64) error {
	input.Bucket = aws.String(s.bucket)
	input.ContentLength = aws.Int64(size)

	if _, err := s.putter.Upload(ctx, input); err != nil {
		return classify(fmt.Errorf("put %s: %w", aws.ToString(input.Key), err))
	}
	s.logger.Debugf("Stored s3://%s/%s (%d bytes)", s.bucket, aws.ToString(input.Key), size)
	return nil
}

func (s *Sink) key(ref upload.ObjectRef, elems ...string) string {
	return path.Join(append([]string{s.prefix, ref.Key}, elems...)...)
}

func classify(err error) error {
	var apiError smithy.APIError
	if !errors.As(err, &apiError) {
		return err
	}
	return upload.Rejected(err, permanentCodes[apiError.ErrorCode()])
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
