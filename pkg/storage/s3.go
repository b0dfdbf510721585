// Package storage mirrors local archive and session files to S3 for
// durable remote-sweep storage (SPEC_FULL.md §B).
//
// Grounded on pkg/storage/s3.go's Config defaulting and structured-key
// organization, generalized from a JSON-only benchmark-result uploader
// (whose StoreResult/GetResults bodies were themselves placeholders —
// "simplified for now", "real implementation would...") into a real
// Put/Get/List mirror over arbitrary io.Reader payloads, since an
// archive file is a binary blob, not a JSON document.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Error is the sentinel kind for every storage failure: a failed
// upload, download, or listing.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("storage: %s: %s", e.Op, e.Msg) }

func errf(op, format string, args ...any) error {
	return &Error{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Config configures the S3 mirror, reduced from s3.go's Config to the
// fields a binary-blob mirror actually uses (no EnableCompression/
// EnableVersioning/MetadataEnrichment — this mirror stores whatever
// bytes the caller gives it, unmodified).
type Config struct {
	BucketName    string
	KeyPrefix     string
	StorageClass  string
	RetryAttempts int
	UploadTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.UploadTimeout == 0 {
		c.UploadTimeout = 10 * time.Minute
	}
	if c.StorageClass == "" {
		c.StorageClass = "STANDARD"
	}
}

// Mirror uploads and downloads archive/session blobs to/from S3.
type Mirror struct {
	client *s3.Client
	config Config
}

// New builds a Mirror from the default AWS credential chain/region
// resolution, applying cfg's defaults the way s3.go's NewS3Storage
// does.
func New(ctx context.Context, cfg Config) (*Mirror, error) {
	cfg.applyDefaults()
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(cfg.RetryAttempts))
	if err != nil {
		return nil, errf("new", "%v", err)
	}
	return &Mirror{client: s3.NewFromConfig(awsCfg), config: cfg}, nil
}

// ArchiveKey builds the structured S3 key for an archive belonging to
// kernel/length, mirroring s3.go's prefix/raw/YYYY/MM/DD/... layout
// generalized from region/instance-type to kernel/length.
func (m *Mirror) ArchiveKey(kernel string, length int, uploadedAt time.Time) string {
	u := uploadedAt.UTC()
	return fmt.Sprintf("%sarchive/%04d/%02d/%02d/%s/%d/%s.bin",
		m.config.KeyPrefix, u.Year(), u.Month(), u.Day(), kernel, length, u.Format("20060102-150405"))
}

// SessionKey builds the structured S3 key for a benchlog Session
// document uploaded at uploadedAt.
func (m *Mirror) SessionKey(uploadedAt time.Time) string {
	u := uploadedAt.UTC()
	return fmt.Sprintf("%ssession/%04d/%02d/%02d/%s.jsonl",
		m.config.KeyPrefix, u.Year(), u.Month(), u.Day(), u.Format("20060102-150405"))
}

// Put uploads body under key with the mirror's configured storage
// class, within UploadTimeout.
func (m *Mirror) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.UploadTimeout)
	defer cancel()

	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(m.config.BucketName),
		Key:          aws.String(key),
		Body:         body,
		ContentType:  aws.String(contentType),
		StorageClass: types.StorageClass(m.config.StorageClass),
	})
	if err != nil {
		return errf("put", "%v", err)
	}
	return nil
}

// Get downloads the object at key. The caller must close the returned
// reader.
func (m *Mirror) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.config.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errf("get", "%v", err)
	}
	return resp.Body, nil
}

// List returns every object key under prefix, paginating via
// ContinuationToken until ListObjectsV2 reports no more pages.
func (m *Mirror) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		resp, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(m.config.BucketName),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errf("list", "%v", err)
		}
		for _, obj := range resp.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	return keys, nil
}
