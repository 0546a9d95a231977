package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	ErrFileNotFound = errors.New("file not found")
)

//go:generate mockgen -destination=mocks/strategy.go -package=mocks github.com/airbusgeo/terrainfetch/interface/storage Strategy

// Strategy is implemented by each storage backend (local filesystem, gs://, s3://)
type Strategy interface {
	Download(ctx context.Context, uri string, options ...Option) ([]byte, error)
	DownloadToFile(ctx context.Context, source string, destination string, options ...Option) error
	Upload(ctx context.Context, uri string, data []byte, options ...Option) error
	UploadFile(ctx context.Context, uri string, data io.ReadCloser, options ...Option) error
	Delete(ctx context.Context, uri string, options ...Option) error
	Exist(ctx context.Context, uri string) (bool, error)
	GetAttrs(ctx context.Context, uri string) (Attrs, error)
}

type Option func(o *option)

type option struct {
	MaxTries     int
	Delay        time.Duration
	StorageClass string
	Offset         int64
	Length         int64
	IgnoreNotFound bool
}

// Attrs are the attributes of a stored file
type Attrs struct {
	ContentType  string
	StorageClass string
	Size         int64
}

func MaxTries(n int) Option {
	if n <= 0 {
		n = 1
	}
	return func(o *option) {
		o.MaxTries = n
	}
}

func OnErrorRetryDelay(d time.Duration) Option {
	if d < 0 {
		d = 0
	}
	return func(o *option) {
		o.Delay = d
	}
}

func StorageClass(cl string) Option {
	return func(o *option) {
		o.StorageClass = cl
	}
}

func Offset(off int64) Option {
	if off < 0 {
		panic("offset cannot be negative")
	}
	return func(o *option) {
		o.Offset = off
	}
}

func Length(l int64) Option {
	if l <= 0 {
		panic("length must be >0")
	}
	return func(o *option) {
		o.Length = l
	}
}

// IgnoreNotFound makes Delete succeed on a missing file
func IgnoreNotFound() Option {
	return func(o *option) {
		o.IgnoreNotFound = true
	}
}

func Apply(opts ...Option) option {
	opt := option{
		MaxTries: 10,
		Delay:    time.Second,
		Offset:   0,
		Length:   -1,
	}
	for _, o := range opts {
		o(&opt)
	}
	return opt
}

// Retry calls f up to MaxTries times, doubling the delay between tries, while isTemporary(err)
func Retry(ctx context.Context, opt option, isTemporary func(error) bool, f func() error) error {
	d := opt.Delay
	var err error
	for try := 0; try < opt.MaxTries; try++ {
		if try > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
			d *= 2
		}
		if err = f(); err == nil || !isTemporary(err) {
			return err
		}
	}
	return err
}

// SplitBucketObject takes in a string in the form scheme://bucket/path/to/object,
// bucket/path/to/object or /bucket/path/to/object and returns the bucket and object strings
func SplitBucketObject(uri string) (bucket, object string, err error) {
	if i := strings.Index(uri, "://"); i >= 0 {
		uri = uri[i+3:]
	} else {
		uri = strings.TrimPrefix(uri, "/")
	}
	firstSlash := strings.Index(uri, "/")
	if firstSlash != -1 {
		bucket, object = uri[:firstSlash], uri[firstSlash+1:]
	}
	if len(bucket) == 0 || len(object) == 0 {
		err = fmt.Errorf("missing bucket or object in %s", uri)
	}
	return
}
