package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"github.com/lvgrader/grader/internal/model"
)

// S3FetchOptions configures S3FetchFunc.
type S3FetchOptions struct {
	Bucket string
	Region string

	// KeyPrefix is prepended to the digest to form the S3 object key,
	// e.g. "artifacts/" for objects stored under artifacts/<digest>.zst.
	KeyPrefix string
	// Zstd marks objects as zstd-compressed on the wire, decompressed on
	// the way into the store — grounded on the teacher's s3downl helper.
	Zstd bool
}

// S3FetchFunc builds a FetchFunc that pulls artifacts from S3 by digest,
// transparently decompressing zstd bodies. Grounded on internal/s3downl,
// generalized from a caller-supplied URL per file to a bucket+prefix
// addressed purely by digest, matching the store's own addressing scheme.
func S3FetchFunc(ctx context.Context, opts S3FetchOptions) (FetchFunc, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	return func(digest model.Digest, dst string) error {
		key := opts.KeyPrefix + string(digest)
		if opts.Zstd {
			key += ".zst"
		}

		out, err := os.Create(dst)
		if err != nil {
			return fmt.Errorf("create %s: %w", dst, err)
		}
		defer out.Close()

		obj, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(opts.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("get s3://%s/%s: %w", opts.Bucket, key, err)
		}
		defer obj.Body.Close()

		h := sha256.New()
		if opts.Zstd {
			d, err := zstd.NewReader(obj.Body)
			if err != nil {
				return fmt.Errorf("zstd reader: %w", err)
			}
			defer d.Close()
			if _, err := io.Copy(io.MultiWriter(out, h), d); err != nil {
				return fmt.Errorf("write %s: %w", dst, err)
			}
		} else {
			if _, err := io.Copy(io.MultiWriter(out, h), obj.Body); err != nil {
				return fmt.Errorf("write %s: %w", dst, err)
			}
		}

		if got := model.Digest(hex.EncodeToString(h.Sum(nil))); got != digest {
			return fmt.Errorf("digest mismatch for %s: got %s", digest, got)
		}
		return nil
	}, nil
}
