package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrBucketNotFound is returned by a BucketChecker when the bucket is missing.
var ErrBucketNotFound = errors.New("bucket not found")

// BucketChecker verifies the backup bucket is reachable before a snapshot.
type BucketChecker interface {
	CheckBucket(ctx context.Context, bucket string) error
}

type headBucketAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3BucketChecker issues HeadBucket with the default AWS credential chain.
type S3BucketChecker struct {
	api headBucketAPI
}

func NewS3BucketChecker(ctx context.Context, region string) (*S3BucketChecker, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3BucketChecker{api: s3.NewFromConfig(cfg)}, nil
}

func (c *S3BucketChecker) CheckBucket(ctx context.Context, bucket string) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return fmt.Errorf("s3 bucket %q: %w", bucket, ErrBucketNotFound)
	}
	return fmt.Errorf("s3 head bucket %q: %w", bucket, err)
}
