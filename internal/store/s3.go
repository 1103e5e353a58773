package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// glacierRestoreDays is how long a staged Glacier object stays readable
// in S3 before reverting to cold storage.
const glacierRestoreDays = 7

// S3Config describes how to reach the bucket an S3 backend stores objects in.
type S3Config struct {
	Bucket    string
	Prefix    string // key prefix under which objects live, e.g. the configured "path"
	Region    string
	AccessKey string
	SecretKey string
}

// S3 is an S3-backed Backend, also used for Glacier-class cold storage:
// RequestRetrieval issues a Glacier restore request when the object's
// storage class requires one.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3 creates an S3 backend from explicit credentials and bucket info,
// grounded on the same aws-sdk-go-v2 config/credentials wiring path used
// across the example pack's S3-backed vaults.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("store: s3 backend requires a bucket")
	}

	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

func (s *S3) String() string { return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix) }

func (s *S3) key(name string) (string, error) {
	if len(name) < 2 {
		return "", fmt.Errorf("store: object name %q too short", name)
	}
	if s.prefix == "" {
		return fmt.Sprintf("%s/%s", name[:2], name), nil
	}
	return fmt.Sprintf("%s/%s/%s", s.prefix, name[:2], name), nil
}

// Put is idempotent at the semantic level expected by the core: if the
// object already exists, the input is drained and discarded rather than
// re-uploaded.
func (s *S3) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}

	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		_, err := io.Copy(io.Discard, r)
		return err
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("uploading object %s: %w", name, err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		if isInvalidObjectState(err) {
			return nil, ErrRetrievalPending
		}
		return nil, fmt.Errorf("getting object %s: %w", name, err)
	}
	return out.Body, nil
}

func (s *S3) Exists(ctx context.Context, name string) (bool, error) {
	key, err := s.key(name)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("heading object %s: %w", name, err)
}

// RequestRetrieval issues a Glacier RestoreObject call. If the object is
// in a storage class that doesn't require restoration, it reports Ready
// immediately.
func (s *S3) RequestRetrieval(ctx context.Context, name string) (RetrievalHandle, error) {
	key, err := s.key(name)
	if err != nil {
		return RetrievalHandle{}, err
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return RetrievalHandle{Name: name}, ErrNotFound
		}
		return RetrievalHandle{Name: name, Err: err}, fmt.Errorf("heading object %s: %w", name, err)
	}

	if head.StorageClass == "" || !isColdStorageClass(string(head.StorageClass)) {
		return RetrievalHandle{Name: name, Ready: true}, nil
	}

	switch restoreState(head.Restore) {
	case restoreOngoing:
		return RetrievalHandle{Name: name, Ready: false}, nil
	case restoreCompleted:
		return RetrievalHandle{Name: name, Ready: true}, nil
	}

	_, err = s.client.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		RestoreRequest: &types.RestoreRequest{
			Days: aws.Int32(glacierRestoreDays),
		},
	})
	if err != nil {
		return RetrievalHandle{Name: name, Err: err}, fmt.Errorf("requesting restore of %s: %w", name, err)
	}

	return RetrievalHandle{Name: name, Ready: false}, nil
}

type restoreStatus int

const (
	restoreNone restoreStatus = iota
	restoreOngoing
	restoreCompleted
)

// restoreState parses the HeadObject "x-amz-restore" header, which looks
// like `ongoing-request="true"` or `ongoing-request="false", expiry-date="..."`.
func restoreState(restore *string) restoreStatus {
	if restore == nil {
		return restoreNone
	}
	switch {
	case strings.Contains(*restore, `ongoing-request="true"`):
		return restoreOngoing
	case strings.Contains(*restore, `ongoing-request="false"`):
		return restoreCompleted
	default:
		return restoreNone
	}
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isInvalidObjectState(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "InvalidObjectState"
	}
	return false
}

func isColdStorageClass(class string) bool {
	switch class {
	case "GLACIER", "DEEP_ARCHIVE":
		return true
	}
	return false
}

var _ Backend = (*S3)(nil)
