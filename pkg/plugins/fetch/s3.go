package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/platinummonkey/boringtable/pkg/plugins/fetch")

// S3GetObjectAPI is the part of *s3.Client used by S3Source.
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures NewS3Client.
type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client. Static credentials are used when both
// keys are set, otherwise the default credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Source reads rows from a JSON object. The object holds either a result
// document ({"data": [...], "extensions": {...}}) or a bare array of rows.
type S3Source[T any] struct {
	Client S3GetObjectAPI
	Bucket string
	Key    string
	// KeyFunc, when set, picks the object per request instead of Key.
	KeyFunc func(req Request) string
}

func (s *S3Source[T]) key(req Request) string {
	if s.KeyFunc != nil {
		return s.KeyFunc(req)
	}
	return s.Key
}

// Fetch downloads and decodes the object.
func (s *S3Source[T]) Fetch(ctx context.Context, req Request) (*Result[T], error) {
	key := s.key(req)
	ctx, span := tracer.Start(ctx, "S3Source.Fetch",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.Bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get object from s3")
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.Bucket, key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read object")
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", s.Bucket, key, err)
	}
	span.SetAttributes(attribute.Int("content.size", len(body)))

	res, err := decodeRows[T](body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode object")
		return nil, fmt.Errorf("failed to decode s3://%s/%s: %w", s.Bucket, key, err)
	}
	span.SetAttributes(attribute.Int("rows", len(res.Data)))
	span.SetStatus(codes.Ok, "object fetched")
	return res, nil
}

func decodeRows[T any](body []byte) (*Result[T], error) {
	trimmed := bytes.TrimSpace(body)
	if strings.HasPrefix(string(trimmed), "[") {
		var rows []T
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, err
		}
		return &Result[T]{Data: rows}, nil
	}
	var res Result[T]
	if err := json.Unmarshal(trimmed, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
