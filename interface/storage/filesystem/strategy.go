package filesystem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/terrainfetch/interface/storage"
)

type fileSystemStrategy struct {
}

func NewFileSystemStrategy(ctx context.Context) (storage.Strategy, error) {
	return fileSystemStrategy{}, nil
}

func formatError(err error) error {
	var epath *os.PathError
	if errors.As(err, &epath) && os.IsNotExist(epath) {
		return storage.ErrFileNotFound
	}
	return err
}

// localPath strips the file:// scheme
func localPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// writeFile writes r to path through a temporary file renamed on success
func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("failed to copy: %w", err)
	}
	if err = f.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	return os.Rename(f.Name(), path)
}

func (s fileSystemStrategy) Download(ctx context.Context, uri string, options ...storage.Option) ([]byte, error) {
	f, err := os.Open(localPath(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", formatError(err))
	}
	defer f.Close()

	opts := storage.Apply(options...)
	if opts.Offset > 0 {
		if _, err := f.Seek(opts.Offset, io.SeekStart); err != nil {
			return nil, err
		}
	}
	if opts.Length > 0 {
		return io.ReadAll(io.LimitReader(f, opts.Length))
	}
	return io.ReadAll(f)
}

func (s fileSystemStrategy) DownloadToFile(ctx context.Context, source, destination string, options ...storage.Option) error {
	sourceFile, err := os.Open(localPath(source))
	if err != nil {
		return fmt.Errorf("failed to open file: %w", formatError(err))
	}
	defer sourceFile.Close()

	return writeFile(localPath(destination), sourceFile)
}

func (s fileSystemStrategy) Upload(ctx context.Context, uri string, data []byte, options ...storage.Option) error {
	return writeFile(localPath(uri), bytes.NewReader(data))
}

func (s fileSystemStrategy) UploadFile(ctx context.Context, uri string, data io.ReadCloser, options ...storage.Option) error {
	defer data.Close()
	return writeFile(localPath(uri), data)
}

func (s fileSystemStrategy) Delete(ctx context.Context, uri string, options ...storage.Option) error {
	opts := storage.Apply(options...)

	if err := os.Remove(localPath(uri)); err != nil {
		if !opts.IgnoreNotFound || !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove file: %w", formatError(err))
		}
	}

	return nil
}

func (s fileSystemStrategy) Exist(ctx context.Context, uri string) (bool, error) {
	if _, err := os.Stat(localPath(uri)); err != nil {
		if os.IsNotExist(err) {
			return false, storage.ErrFileNotFound
		}
		return false, err
	}
	return true, nil
}

func (s fileSystemStrategy) GetAttrs(ctx context.Context, uri string) (storage.Attrs, error) {
	f, err := os.Open(localPath(uri))
	if err != nil {
		return storage.Attrs{}, fmt.Errorf("failed to open file: %w", formatError(err))
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return storage.Attrs{}, err
	}

	// Only the first 512 bytes are used to sniff the content type.
	buffer := make([]byte, 512)
	b, err := f.Read(buffer)
	if err != nil && err != io.EOF {
		return storage.Attrs{}, err
	}

	return storage.Attrs{
		ContentType:  http.DetectContentType(buffer[:b]),
		StorageClass: "filesystem",
		Size:         fi.Size(),
	}, nil
}
