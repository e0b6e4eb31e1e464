// Package s3remote implements the drive.Store contract over an S3 (or
// S3-compatible) bucket: delimiter listings for directories, ranged
// GetObject streams for reads, and presigned GETs as direct URLs.
package s3remote

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/drivefs-fuse/drivefs-go/internal/drive"
)

// Options configures the S3 store. AccessKey/SecretKey are optional; when
// empty the SDK's default credential chain is used. Endpoint supports
// S3-compatible services (path-style addressing is forced then).
type Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string

	// PresignTTL bounds direct URL validity. Defaults to 1 hour.
	PresignTTL time.Duration
}

// Store is an S3-backed drive.Store.
type Store struct {
	bucket     string
	client     *s3.Client
	presign    *s3.PresignClient
	presignTTL time.Duration
}

var _ drive.Store = (*Store)(nil)

// New creates the store and its presigning client.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	cfgOptions := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		cfgOptions = append(cfgOptions, config.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, cfgOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "loading AWS config")
	}
	s3Options := []func(*s3.Options){}
	if opts.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(cfg, s3Options...)
	ttl := opts.PresignTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Store{
		bucket:     opts.Bucket,
		client:     client,
		presign:    s3.NewPresignClient(client),
		presignTTL: ttl,
	}, nil
}

// ListChildren lists one directory level using a delimiter listing: common
// prefixes become directories, objects become files.
func (s *Store) ListChildren(ctx context.Context, dir string) ([]drive.Item, error) {
	prefix := strings.TrimPrefix(dir, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var items []drive.Item
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	for {
		page, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, errors.Wrapf(err, "listing %s", dir)
		}
		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
			if name == "" {
				continue
			}
			items = append(items, drive.Item{
				ID:    *cp.Prefix,
				Name:  name,
				IsDir: true,
			})
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || *obj.Key == prefix {
				continue
			}
			name := strings.TrimPrefix(*obj.Key, prefix)
			item := drive.Item{
				ID:   *obj.Key,
				Name: name,
			}
			if obj.Size != nil {
				item.Size = *obj.Size
			}
			if obj.LastModified != nil {
				item.Mtime = *obj.LastModified
				item.Ctime = *obj.LastModified
				item.Atime = *obj.LastModified
			}
			if obj.ETag != nil {
				item.Hash = strings.Trim(*obj.ETag, `"`)
			}
			items = append(items, item)
		}
		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}
	return items, nil
}

// OpenRange opens a ranged GetObject stream for the item.
func (s *Store) OpenRange(ctx context.Context, item drive.Item, start int64) (drive.File, error) {
	f := &s3File{
		ctx:    ctx,
		client: s.client,
		bucket: s.bucket,
		key:    item.ID,
		length: item.Size,
	}
	if err := f.connect(start); err != nil {
		return nil, err
	}
	return f, nil
}

// DirectURL presigns a GET for the item.
func (s *Store) DirectURL(ctx context.Context, item drive.Item) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(item.ID),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", errors.Wrapf(err, "presigning %s", item.ID)
	}
	return req.URL, nil
}

// s3File is a remote stream over ranged GetObject calls; Seek drops the
// body and reconnects at the new offset on the next read.
type s3File struct {
	ctx    context.Context
	client *s3.Client
	bucket string
	key    string
	length int64
	pos    int64
	body   io.ReadCloser
}

func (f *s3File) connect(offset int64) error {
	input := &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}
	out, err := f.client.GetObject(f.ctx, input)
	if err != nil {
		return errors.Wrapf(err, "opening %s at %d", f.key, offset)
	}
	if out.ContentRange != nil {
		var first, last, total int64
		if _, err := fmt.Sscanf(*out.ContentRange, "bytes %d-%d/%d", &first, &last, &total); err == nil {
			f.length = total
		}
	} else if offset == 0 && out.ContentLength != nil {
		f.length = *out.ContentLength
	}
	f.body = out.Body
	f.pos = offset
	return nil
}

func (f *s3File) Read(p []byte) (int, error) {
	if f.body == nil {
		if err := f.connect(f.pos); err != nil {
			return 0, err
		}
	}
	n, err := f.body.Read(p)
	f.pos += int64(n)
	return n, err
}

func (f *s3File) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.pos + offset
	case io.SeekEnd:
		abs = f.length + offset
	default:
		return 0, errors.Errorf("bad whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("negative seek")
	}
	if abs != f.pos {
		if f.body != nil {
			f.body.Close()
			f.body = nil
		}
		f.pos = abs
	}
	return abs, nil
}

func (f *s3File) Close() error {
	if f.body == nil {
		return nil
	}
	err := f.body.Close()
	f.body = nil
	return err
}

// Length reports the object size as seen by the open stream.
func (f *s3File) Length() int64 { return f.length }
