// Package s3archive mirrors the local file snapshot to S3-compatible object
// storage (spec §4.9). It is purely additive: absent configuration, callers
// never construct an Archiver and the file backend behaves as if this
// package did not exist. Every operation is best-effort — failures are the
// caller's to log, never fatal, and never block a Periodic tick.
package s3archive

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver pushes a copy of the on-disk snapshot file to a configured
// bucket/key after every successful local Save, and fetches it back on
// startup when the local file is missing.
type Archiver struct {
	client *s3.Client
	bucket string
	key    string
}

// New constructs an Archiver against bucket/key using the default AWS
// credential chain.
func New(ctx context.Context, bucket, key string) (*Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3archive: load aws config: %w", err)
	}
	return &Archiver{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		key:    key,
	}, nil
}

// Upload copies the file at localPath to the configured bucket/key.
func (a *Archiver) Upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3archive: open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("s3archive: put %s/%s: %w", a.bucket, a.key, err)
	}
	return nil
}

// Download fetches the configured bucket/key into localPath, used when the
// local snapshot file is missing (e.g. a freshly scheduled worker).
func (a *Archiver) Download(ctx context.Context, localPath string) error {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key),
	})
	if err != nil {
		return fmt.Errorf("s3archive: get %s/%s: %w", a.bucket, a.key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("s3archive: create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := f.ReadFrom(out.Body); err != nil {
		return fmt.Errorf("s3archive: write %s: %w", localPath, err)
	}
	return nil
}
