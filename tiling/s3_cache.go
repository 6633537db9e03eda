package tiling

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/paulmach/orb/maptile"
)

// DefaultS3PathTemplate lays tiles out as {z}/{x}/{y}.{ext} under the
// bucket root.
const DefaultS3PathTemplate = "{z}/{x}/{y}.{ext}"

type s3Downloader interface {
	DownloadWithContext(ctx aws.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*s3manager.Downloader)) (int64, error)
}

type s3Uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, options ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// S3Options configures an S3Cache.
type S3Options struct {
	Bucket string
	// PathTemplate may use {z} {x} {y} {ext} {l} (the layer name) and {h},
	// the first five hex digits of md5("z/x/y.ext").
	PathTemplate  string
	LayerName     string
	Extension     string
	ContentType   string
	RequesterPays bool
}

// S3Cache keeps tiles as objects in an S3 bucket.
type S3Cache struct {
	opts       S3Options
	downloader s3Downloader
	uploader   s3Uploader
}

func NewS3Cache(opts S3Options) (*S3Cache, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 cache needs a bucket")
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, err
	}

	downloader := s3manager.NewDownloader(
		sess,
		func(downloader *s3manager.Downloader) {
			downloader.BufferProvider = s3manager.NewPooledBufferedWriterReadFromProvider(1024 * 1024)
		},
	)

	return newS3Cache(opts, downloader, s3manager.NewUploader(sess)), nil
}

func newS3Cache(opts S3Options, downloader s3Downloader, uploader s3Uploader) *S3Cache {
	if opts.PathTemplate == "" {
		opts.PathTemplate = DefaultS3PathTemplate
	}
	if opts.Extension == "" {
		opts.Extension = "png"
	}
	return &S3Cache{opts: opts, downloader: downloader, uploader: uploader}
}

func (c *S3Cache) key(t maptile.Tile) string {
	hash := md5.Sum([]byte(fmt.Sprintf("%d/%d/%d.%s", t.Z, t.X, t.Y, c.opts.Extension)))
	hashHex := hex.EncodeToString(hash[:])

	return strings.NewReplacer(
		"{x}", fmt.Sprintf("%d", t.X),
		"{y}", fmt.Sprintf("%d", t.Y),
		"{z}", fmt.Sprintf("%d", t.Z),
		"{ext}", c.opts.Extension,
		"{l}", c.opts.LayerName,
		"{h}", hashHex[:5]).Replace(c.opts.PathTemplate)
}

func (c *S3Cache) Find(ctx context.Context, tile maptile.Tile) ([]byte, bool, error) {
	buf := &aws.WriteAtBuffer{}
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(c.key(tile)),
	}

	if c.opts.RequesterPays {
		input.RequestPayer = aws.String("requester")
	}

	if _, err := c.downloader.DownloadWithContext(ctx, buf, input); err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("unable to download s3://%s/%s: %w", c.opts.Bucket, *input.Key, err)
	}
	return buf.Bytes(), true, nil
}

func (c *S3Cache) Add(ctx context.Context, tile maptile.Tile, data []byte) error {
	input := &s3manager.UploadInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(c.key(tile)),
		Body:   bytes.NewReader(data),
	}
	if c.opts.ContentType != "" {
		input.ContentType = aws.String(c.opts.ContentType)
	}
	if c.opts.RequesterPays {
		input.RequestPayer = aws.String("requester")
	}

	if _, err := c.uploader.UploadWithContext(ctx, input); err != nil {
		return fmt.Errorf("unable to upload s3://%s/%s: %w", c.opts.Bucket, *input.Key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}
