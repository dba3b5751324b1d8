// Package s3 stores snapshots as objects in an S3-compatible bucket (AWS S3,
// MinIO). Keys follow [snapshot.ObjectKey] under an optional prefix.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/avictorious/fpsim/internal/snapshot"
)

const contentType = "application/json"

// API is the subset of *s3.Client used by [Store].
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Config holds connection parameters. Credentials come from the default AWS
// chain (environment, shared config, instance role).
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
	Prefix    string
}

// Store is an S3-backed [snapshot.Store].
type Store struct {
	api    API
	bucket string
	prefix string
}

var _ snapshot.Store = (*Store)(nil)

// New builds a client from cfg and the default credential chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 store: bucket required")
	}
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 store: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithAPI(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, bucket, prefix string) *Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{api: api, bucket: bucket, prefix: prefix}
}

func (s *Store) key(runID string, step int) string {
	return s.prefix + snapshot.ObjectKey(runID, step)
}

// Save implements [snapshot.Store].
func (s *Store) Save(ctx context.Context, e *snapshot.Envelope) (snapshot.Meta, error) {
	if e != nil && e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	data, err := snapshot.Encode(e)
	if err != nil {
		return snapshot.Meta{}, err
	}
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(e.RunID, e.Step)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return snapshot.Meta{}, fmt.Errorf("s3 store: put: %w", err)
	}
	return snapshot.Meta{RunID: e.RunID, Step: e.Step, Size: int64(len(data)), CreatedAt: e.CreatedAt}, nil
}

// Load implements [snapshot.Store].
func (s *Store) Load(ctx context.Context, runID string, step int) (*snapshot.Envelope, error) {
	if err := snapshot.ValidateRunID(runID); err != nil {
		return nil, err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(runID, step)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: run %q step %d", snapshot.ErrNotFound, runID, step)
		}
		return nil, fmt.Errorf("s3 store: get: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 store: read body: %w", err)
	}
	return snapshot.Decode(data)
}

// Latest implements [snapshot.Store]. Without a run id the newest object by
// LastModified wins.
func (s *Store) Latest(ctx context.Context, runID string) (*snapshot.Envelope, error) {
	metas, err := s.List(ctx, runID)
	if err != nil {
		return nil, err
	}
	m, ok := snapshot.Newest(metas, runID)
	if !ok {
		return nil, fmt.Errorf("%w: run %q", snapshot.ErrNotFound, runID)
	}
	return s.Load(ctx, m.RunID, m.Step)
}

// List implements [snapshot.Store], following continuation tokens.
func (s *Store) List(ctx context.Context, runID string) ([]snapshot.Meta, error) {
	prefix := s.prefix
	if runID != "" {
		if err := snapshot.ValidateRunID(runID); err != nil {
			return nil, err
		}
		prefix += runID + "/"
	}

	var (
		metas []snapshot.Meta
		token *string
	)
	for {
		out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 store: list: %w", err)
		}
		for _, obj := range out.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			run, step, ok := snapshot.ParseObjectKey(key)
			if !ok {
				continue
			}
			metas = append(metas, snapshot.Meta{
				RunID:     run,
				Step:      step,
				Size:      aws.ToInt64(obj.Size),
				CreatedAt: aws.ToTime(obj.LastModified).UTC(),
			})
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	snapshot.SortMetas(metas)
	return metas, nil
}

// Ping checks that the bucket exists and is accessible.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("s3 store: head bucket %q: %w", s.bucket, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error { return nil }
