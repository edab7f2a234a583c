package storageadapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// S3Adapter implements Adapter against an S3-compatible bucket. It is
// selected as the node's sole storage backend like any other adapter; no
// tiering between it and the embedded backends is done.
type S3Adapter struct {
	client *s3.Client
	bucket string
	logger *logrus.Logger
}

// S3Options configures an S3Adapter.
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Logger    *logrus.Logger
}

// NewS3Adapter configures a client for a remote (possibly S3-compatible,
// non-AWS) endpoint using path-style addressing.
func NewS3Adapter(opts S3Options) (*S3Adapter, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Bucket == "" {
		return nil, errors.New("s3 adapter requires a bucket name")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: opts.Endpoint, HostnameImmutable: true, SigningRegion: region}, nil
	})
	cfg := aws.Config{
		Region:                      opts.Region,
		Credentials:                 credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		EndpointResolverWithOptions: resolver,
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) { o.UsePathStyle = true })

	return &S3Adapter{client: client, bucket: opts.Bucket, logger: opts.Logger}, nil
}

func (a *S3Adapter) Initialize(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		return fmt.Errorf("s3 bucket %q unreachable: %w", a.bucket, err)
	}
	return nil
}

func (a *S3Adapter) Close() error { return nil }

func objectKey(mapName, key string) string { return mapName + "/" + key }

func (a *S3Adapter) Load(ctx context.Context, mapName, key string) (Value, bool, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(objectKey(mapName, key))})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return Value{}, false, nil
		}
		return Value{}, false, fmt.Errorf("s3 get %s/%s: %w", mapName, key, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return Value{}, false, fmt.Errorf("s3 read body %s/%s: %w", mapName, key, err)
	}
	v, err := unmarshalValue(b)
	if err != nil {
		return Value{}, false, fmt.Errorf("unmarshal s3 value %s/%s: %w", mapName, key, err)
	}
	return v, true, nil
}

func (a *S3Adapter) LoadAll(ctx context.Context, mapName string, keys []string) (map[string]Value, error) {
	out := make(map[string]Value, len(keys))
	for _, k := range keys {
		v, ok, err := a.Load(ctx, mapName, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (a *S3Adapter) LoadAllKeys(ctx context.Context, mapName string) ([]string, error) {
	prefix := mapName + "/"
	var keys []string
	var token *string
	for {
		resp, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 list %s: %w", mapName, err)
		}
		for _, obj := range resp.Contents {
			keys = append(keys, (*obj.Key)[len(prefix):])
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	return keys, nil
}

func (a *S3Adapter) Store(ctx context.Context, mapName, key string, v Value) error {
	b, err := v.marshal()
	if err != nil {
		return fmt.Errorf("marshal s3 value %s/%s: %w", mapName, key, err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(objectKey(mapName, key)),
		Body:          bytes.NewReader(b),
		ContentLength: aws.Int64(int64(len(b))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", mapName, key, err)
	}
	return nil
}

func (a *S3Adapter) StoreAll(ctx context.Context, mapName string, values map[string]Value) error {
	for k, v := range values {
		if err := a.Store(ctx, mapName, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (a *S3Adapter) Delete(ctx context.Context, mapName, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(objectKey(mapName, key))})
	if err != nil {
		return fmt.Errorf("s3 delete %s/%s: %w", mapName, key, err)
	}
	return nil
}

func (a *S3Adapter) DeleteAll(ctx context.Context, mapName string, keys []string) error {
	for _, k := range keys {
		if err := a.Delete(ctx, mapName, k); err != nil {
			return err
		}
	}
	return nil
}
