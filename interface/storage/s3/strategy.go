package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	fetchStorage "github.com/airbusgeo/terrainfetch/interface/storage"
	"github.com/airbusgeo/terrainfetch/internal/utils"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	aws3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config configures the s3 client. Empty fields fall back on the default aws chain.
type Config struct {
	Region          string
	Endpoint        string
	CredentialsFile string
}

// NewClient loads the aws configuration and creates an s3 client.
// With a custom endpoint, path-style addressing is used.
func NewClient(ctx context.Context, cfg Config) (*aws3.Client, error) {
	var opts []func(*awsConfig.LoadOptions) error
	if cfg.CredentialsFile != "" {
		opts = append(opts, awsConfig.WithSharedCredentialsFiles([]string{cfg.CredentialsFile}))
	}
	if cfg.Region != "" {
		opts = append(opts, awsConfig.WithRegion(cfg.Region))
	}
	config, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: %w", err)
	}
	return aws3.NewFromConfig(config, func(o *aws3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

type s3Strategy struct {
	client *aws3.Client
}

func NewS3Strategy(ctx context.Context, cfg Config) (fetchStorage.Strategy, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client : %w", err)
	}
	return s3Strategy{client: client}, nil
}

func s3Error(err error) error {
	if err == nil {
		return nil
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsk) || errors.As(err, &nf) || errors.As(err, &nsb) {
		return fetchStorage.ErrFileNotFound
	}
	return err
}

func bucketKey(uri string) (*string, *string, error) {
	bucket, key, err := fetchStorage.SplitBucketObject(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode URI %s : %w", uri, err)
	}
	return aws.String(bucket), aws.String(key), nil
}

// downloadTo copies the object to the writer returned by rewind, called before each attempt
func (s s3Strategy) downloadTo(ctx context.Context, uri string, rewind func() (io.Writer, error), options ...fetchStorage.Option) error {
	bucket, key, err := bucketKey(uri)
	if err != nil {
		return err
	}
	op := fetchStorage.Apply(options...)
	input := &aws3.GetObjectInput{Bucket: bucket, Key: key}
	if op.Offset > 0 || op.Length > 0 {
		rng := fmt.Sprintf("bytes=%d-", op.Offset)
		if op.Length > 0 {
			rng += fmt.Sprintf("%d", op.Offset+op.Length-1)
		}
		input.Range = aws.String(rng)
	}
	return fetchStorage.Retry(ctx, op, utils.Temporary, func() error {
		out, err := s.client.GetObject(ctx, input)
		if err != nil {
			return fmt.Errorf("GetObject %s: %w", uri, s3Error(err))
		}
		defer out.Body.Close()
		w, err := rewind()
		if err != nil {
			return err
		}
		if _, err = io.Copy(w, out.Body); err != nil {
			return fmt.Errorf("copy %s: %w", uri, err)
		}
		return nil
	})
}

func (s s3Strategy) Download(ctx context.Context, uri string, options ...fetchStorage.Option) ([]byte, error) {
	buf := &bytes.Buffer{}
	rewind := func() (io.Writer, error) {
		buf.Reset()
		return buf, nil
	}
	if err := s.downloadTo(ctx, uri, rewind, options...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s s3Strategy) DownloadToFile(ctx context.Context, source, destination string, options ...fetchStorage.Option) error {
	if err := os.MkdirAll(filepath.Dir(destination), os.ModePerm); err != nil {
		return err
	}
	part := destination + ".part"
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	rewind := func() (io.Writer, error) {
		if err := f.Truncate(0); err != nil {
			return nil, err
		}
		_, err := f.Seek(0, io.SeekStart)
		return f, err
	}
	if err = s.downloadTo(ctx, source, rewind, options...); err != nil {
		f.Close()
		os.Remove(part)
		return err
	}
	if err = f.Close(); err != nil {
		os.Remove(part)
		return err
	}
	return os.Rename(part, destination)
}

func (s s3Strategy) Upload(ctx context.Context, uri string, data []byte, options ...fetchStorage.Option) error {
	return s.put(ctx, uri, bytes.NewReader(data), options...)
}

func (s s3Strategy) UploadFile(ctx context.Context, uri string, data io.ReadCloser, options ...fetchStorage.Option) error {
	defer data.Close()
	rs, ok := data.(io.ReadSeeker)
	if !ok {
		b, err := io.ReadAll(data)
		if err != nil {
			return fmt.Errorf("UploadFile: %w", err)
		}
		rs = bytes.NewReader(b)
	}
	return s.put(ctx, uri, rs, options...)
}

func (s s3Strategy) put(ctx context.Context, uri string, r io.ReadSeeker, options ...fetchStorage.Option) error {
	bucket, key, err := bucketKey(uri)
	if err != nil {
		return err
	}
	op := fetchStorage.Apply(options...)
	return fetchStorage.Retry(ctx, op, utils.Temporary, func() error {
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return err
		}
		input := &aws3.PutObjectInput{Bucket: bucket, Key: key, Body: r}
		if op.StorageClass != "" {
			input.StorageClass = types.StorageClass(op.StorageClass)
		}
		if _, err := s.client.PutObject(ctx, input); err != nil {
			return fmt.Errorf("PutObject %s: %w", uri, s3Error(err))
		}
		return nil
	})
}

func (s s3Strategy) Delete(ctx context.Context, uri string, options ...fetchStorage.Option) error {
	bucket, key, err := bucketKey(uri)
	if err != nil {
		return err
	}
	op := fetchStorage.Apply(options...)
	err = fetchStorage.Retry(ctx, op, utils.Temporary, func() error {
		_, err := s.client.DeleteObject(ctx, &aws3.DeleteObjectInput{Bucket: bucket, Key: key})
		return s3Error(err)
	})
	if errors.Is(err, fetchStorage.ErrFileNotFound) && op.IgnoreNotFound {
		return nil
	}
	return err
}

func (s s3Strategy) Exist(ctx context.Context, uri string) (bool, error) {
	if _, err := s.GetAttrs(ctx, uri); err != nil {
		return false, err
	}
	return true, nil
}

func (s s3Strategy) GetAttrs(ctx context.Context, uri string) (fetchStorage.Attrs, error) {
	bucket, key, err := bucketKey(uri)
	if err != nil {
		return fetchStorage.Attrs{}, err
	}
	out, err := s.client.HeadObject(ctx, &aws3.HeadObjectInput{Bucket: bucket, Key: key})
	if err != nil {
		return fetchStorage.Attrs{}, fmt.Errorf("failed to get file attributes from S3 : %w", s3Error(err))
	}
	return fetchStorage.Attrs{
		ContentType:  aws.ToString(out.ContentType),
		StorageClass: string(out.StorageClass),
		Size:         aws.ToInt64(out.ContentLength),
	}, nil
}
