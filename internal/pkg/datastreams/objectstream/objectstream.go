// Package objectstream stores network snapshots as JSON-lines objects in an
// S3 compatible bucket and replays them as record streams.
package objectstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ohowland/cgc_cim/internal/pkg/stream"
)

// Config locates the snapshot bucket.
type Config struct {
	Region    string `json:"Region" yaml:"region"`
	Bucket    string `json:"Bucket" yaml:"bucket"`
	Endpoint  string `json:"Endpoint" yaml:"endpoint"`
	PathStyle bool   `json:"PathStyle" yaml:"path_style"`
}

// NewClient builds an S3 client from the default credential chain. Extra
// options are applied after the configured endpoint.
func NewClient(ctx context.Context, cfg Config, optFns ...func(*s3.Options)) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	opts := []func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}}
	return s3.NewFromConfig(awsCfg, append(opts, optFns...)...), nil
}

// ObjectAPI is the part of *s3.Client used here.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Source is a stream.Source over an object body.
type Source struct {
	*stream.DecoderSource
	body io.Closer
}

// Close releases the object body.
func (s *Source) Close() error {
	return s.body.Close()
}

// OpenS3 opens the object at key as a record stream. Keys ending in .gz are
// decompressed.
func OpenS3(ctx context.Context, api ObjectAPI, bucket, key string) (*Source, error) {
	out, err := api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	var r io.Reader = out.Body
	if strings.HasSuffix(key, ".gz") {
		zr, err := gzip.NewReader(out.Body)
		if err != nil {
			out.Body.Close()
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, err)
		}
		r = zr
	}
	return &Source{DecoderSource: stream.NewDecoderSource(r), body: out.Body}, nil
}

// WriteS3 stores records at key as JSON lines, gzipped when key ends in .gz.
func WriteS3(ctx context.Context, api ObjectAPI, bucket, key string, records []stream.Record) error {
	var buf bytes.Buffer
	var w io.Writer = &buf
	var zw *gzip.Writer
	if strings.HasSuffix(key, ".gz") {
		zw = gzip.NewWriter(&buf)
		w = zw
	}
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return err
		}
	}
	_, err := api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
