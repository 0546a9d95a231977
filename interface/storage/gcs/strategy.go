package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	fetchStorage "github.com/airbusgeo/terrainfetch/interface/storage"
	"github.com/airbusgeo/terrainfetch/internal/utils"
)

type gsStrategy struct {
	gsClient *storage.Client
}

var retriableOAuth2Errors = []string{
	"cannot assign requested address",
	"connection refused",
	"connection reset",
	"timeout",
	"broken pipe",
	"client connection force closed",
	"502 Bad Gateway",
}

var retriableSuffixErrors = []string{
	"http2: client connection lost",
	"http2: client connection force closed via ClientConn.Close",
	"EOF", // Unexpected EOF is a temporary error
}

func gsError(err error) error {
	if err == nil {
		return nil
	}
	if utils.Temporary(err) {
		return err
	}

	// oauth2 does not transfer the temporary status of error
	if strings.Contains(err.Error(), "oauth2: cannot fetch token:") {
		for _, e := range retriableOAuth2Errors {
			if strings.Contains(err.Error(), e) {
				return utils.MakeTemporary(err)
			}
		}
	}

	for _, e := range retriableSuffixErrors {
		if strings.HasSuffix(err.Error(), e) {
			return utils.MakeTemporary(err)
		}
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fetchStorage.ErrFileNotFound
	}
	return gsError(err)
}

func NewGsStrategy(ctx context.Context) (fetchStorage.Strategy, error) {
	gsClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gs Client : %w", gsError(err))
	}
	return gsStrategy{gsClient: gsClient}, nil
}

func (s gsStrategy) object(uri string) (*storage.ObjectHandle, error) {
	bucket, path, err := fetchStorage.SplitBucketObject(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to decode URI %s : %w", uri, err)
	}
	return s.gsClient.Bucket(bucket).Object(path), nil
}

func (s gsStrategy) Download(ctx context.Context, uri string, options ...fetchStorage.Option) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := s.downloadTo(ctx, uri, buf, options...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s gsStrategy) DownloadToFile(ctx context.Context, source, destination string, options ...fetchStorage.Option) error {
	if err := os.MkdirAll(filepath.Dir(destination), os.ModePerm); err != nil {
		return err
	}
	part := destination + ".part"
	writer, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	if err = s.downloadTo(ctx, source, writer, options...); err != nil {
		writer.Close()
		os.Remove(part)
		return fmt.Errorf("failed to download object to destination: %w", err)
	}
	if err = writer.Close(); err != nil {
		os.Remove(part)
		return fmt.Errorf("DownloadToFile: failed to close writer: %w", err)
	}
	return os.Rename(part, destination)
}

func (s gsStrategy) Upload(ctx context.Context, uri string, data []byte, options ...fetchStorage.Option) error {
	return s.uploadFrom(ctx, uri, bytes.NewReader(data), options...)
}

func (s gsStrategy) UploadFile(ctx context.Context, uri string, data io.ReadCloser, options ...fetchStorage.Option) error {
	defer data.Close()
	if rs, ok := data.(io.ReadSeeker); ok {
		return s.uploadFrom(ctx, uri, rs, options...)
	}

	obj, err := s.object(uri)
	if err != nil {
		return err
	}
	opts := fetchStorage.Apply(options...)
	writer := obj.NewWriter(ctx)
	if opts.StorageClass != "" {
		writer.StorageClass = opts.StorageClass
	}
	if _, err = io.Copy(writer, data); err != nil {
		writer.Close()
		return fmt.Errorf("UploadFile: failed to copy: %w", gsError(err))
	}
	if err = writer.Close(); err != nil {
		return fmt.Errorf("UploadFile: failed to close writer: %w", gsError(err))
	}
	return nil
}

func (s gsStrategy) Delete(ctx context.Context, uri string, options ...fetchStorage.Option) error {
	obj, err := s.object(uri)
	if err != nil {
		return err
	}
	op := fetchStorage.Apply(options...)
	err = fetchStorage.Retry(ctx, op, utils.Temporary, func() error {
		return notFound(obj.Delete(ctx))
	})
	if errors.Is(err, fetchStorage.ErrFileNotFound) && op.IgnoreNotFound {
		return nil
	}
	return err
}

func (s gsStrategy) Exist(ctx context.Context, uri string) (bool, error) {
	if _, err := s.GetAttrs(ctx, uri); err != nil {
		return false, err
	}
	return true, nil
}

func (s gsStrategy) GetAttrs(ctx context.Context, uri string) (fetchStorage.Attrs, error) {
	obj, err := s.object(uri)
	if err != nil {
		return fetchStorage.Attrs{}, err
	}

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return fetchStorage.Attrs{}, fmt.Errorf("failed to get file attributes from GCS : %w", notFound(err))
	}

	return fetchStorage.Attrs{
		StorageClass: attrs.StorageClass,
		ContentType:  attrs.ContentType,
		Size:         attrs.Size,
	}, nil
}

func (s gsStrategy) downloadTo(ctx context.Context, uri string, w io.Writer, opts ...fetchStorage.Option) error {
	obj, err := s.object(uri)
	if err != nil {
		return err
	}
	op := fetchStorage.Apply(opts...)
	curOffset := op.Offset
	bytesRemaining := op.Length
	err = fetchStorage.Retry(ctx, op, utils.Temporary, func() error {
		r, err := obj.NewRangeReader(ctx, curOffset, bytesRemaining)
		if err != nil {
			return fmt.Errorf("newreader: %w", notFound(err))
		}
		n, err := io.Copy(w, r)
		r.Close()
		curOffset += n
		if bytesRemaining > 0 {
			bytesRemaining -= n
		}
		if err != nil {
			return fmt.Errorf("copy: %w", gsError(err))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", uri, err)
	}
	return nil
}

func (s gsStrategy) uploadFrom(ctx context.Context, uri string, r io.ReadSeeker, opts ...fetchStorage.Option) error {
	obj, err := s.object(uri)
	if err != nil {
		return err
	}
	op := fetchStorage.Apply(opts...)
	off, _ := r.Seek(0, io.SeekCurrent)
	return fetchStorage.Retry(ctx, op, utils.Temporary, func() error {
		if _, err := r.Seek(off, io.SeekStart); err != nil {
			return fmt.Errorf("r.reset: %w", gsError(err))
		}
		w := obj.NewWriter(ctx)
		if op.StorageClass != "" {
			w.StorageClass = op.StorageClass
		}
		if _, err := io.Copy(w, r); err != nil {
			w.Close()
			return fmt.Errorf("copy: %w", gsError(err))
		}
		if err := gsError(w.Close()); err != nil {
			return fmt.Errorf("w.close: %w", err)
		}
		return nil
	})
}
