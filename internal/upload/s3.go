package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"
)

// Location is an S3 bucket and key prefix parsed from an s3:// URI.
type Location struct {
	Bucket string
	Prefix string // empty or ending in "/"
}

// ParseURI parses "s3://bucket[/prefix]".
func ParseURI(uri string) (Location, error) {
	if !strings.HasPrefix(uri, "s3://") {
		return Location{}, fmt.Errorf("invalid S3 URI prefix: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "s3://"), "/", 2)
	if parts[0] == "" {
		return Location{}, fmt.Errorf("invalid S3 URI format: %s", uri)
	}

	loc := Location{Bucket: parts[0]}
	if len(parts) > 1 && parts[1] != "" {
		loc.Prefix = parts[1]
		if !strings.HasSuffix(loc.Prefix, "/") {
			loc.Prefix += "/"
		}
	}
	return loc, nil
}

// Key returns the object key for a file name.
func (l Location) Key(name string) string {
	return l.Prefix + name
}

// URI returns the s3:// URI of the object holding name.
func (l Location) URI(name string) string {
	return fmt.Sprintf("s3://%s/%s", l.Bucket, l.Key(name))
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies exported files to S3.
type Uploader struct {
	client putObjectAPI
	dest   Location
}

// New creates an uploader for uri using the default AWS credential chain.
func New(ctx context.Context, uri, region string) (*Uploader, error) {
	dest, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Uploader{client: s3.NewFromConfig(cfg), dest: dest}, nil
}

// Upload stores the local file under the destination prefix and returns its
// S3 URI.
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open local file %s: %w", localPath, err)
	}
	defer file.Close()

	name := filepath.Base(localPath)
	bucket := u.dest.Bucket
	key := u.dest.Key(name)

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   file,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to S3: %w", localPath, err)
	}

	location := u.dest.URI(name)
	log.WithFields(log.Fields{
		"file":     localPath,
		"location": location,
	}).Info("Export uploaded to S3")
	return location, nil
}
