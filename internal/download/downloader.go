// Package download fetches remote files concurrently, skipping the files already downloaded
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/airbusgeo/terrainfetch/interface/storage"
	"github.com/airbusgeo/terrainfetch/interface/storage/uri"
	"github.com/airbusgeo/terrainfetch/internal/concurrency"
	"github.com/airbusgeo/terrainfetch/internal/log"
	"github.com/airbusgeo/terrainfetch/internal/terrain"
	"github.com/airbusgeo/terrainfetch/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Version is reported in the User-Agent header
var Version = "dev"

const (
	DefaultHeadTimeout = 10 * time.Second
	DefaultGetTimeout  = 100 * time.Second
)

// RemoteStorage reads gs://, s3:// and file:// objects
type RemoteStorage interface {
	DownloadToFile(ctx context.Context, rawURI, destination string, options ...storage.Option) error
	GetAttrs(ctx context.Context, rawURI string) (storage.Attrs, error)
}

// Downloader downloads files over http(s) or from a RemoteStorage
type Downloader struct {
	Client      *http.Client
	Cache       *SizeCache
	Storage     RemoteStorage
	UserAgent   string
	HeadTimeout time.Duration
	GetTimeout  time.Duration

	inflight singleflight.Group
}

// New creates a downloader. storage may be nil if no gs://, s3:// or file:// url is downloaded.
func New(cache *SizeCache, storage RemoteStorage) *Downloader {
	if cache == nil {
		cache = NewSizeCache("")
	}
	return &Downloader{
		Client:      &http.Client{},
		Cache:       cache,
		Storage:     storage,
		UserAgent:   "terrainfetch/" + Version,
		HeadTimeout: DefaultHeadTimeout,
		GetTimeout:  DefaultGetTimeout,
	}
}

// Transfer is a download in progress
type Transfer struct {
	URL          string
	Path         string
	ExpectedSize int64

	cancel     context.CancelFunc
	once       sync.Once
	onComplete concurrency.Done
	completed  chan struct{}
	success    bool
}

func (t *Transfer) complete(success bool) {
	t.once.Do(func() {
		t.success = success
		close(t.completed)
		t.cancel()
		if t.onComplete != nil {
			t.onComplete(success)
		}
	})
}

// Cancel aborts the transfer, that completes with false.
// It is a no-op if the transfer is already completed.
func (t *Transfer) Cancel() {
	t.complete(false)
}

// Done is closed when the transfer is completed
func (t *Transfer) Done() <-chan struct{} {
	return t.completed
}

// Success returns the result of a completed transfer
func (t *Transfer) Success() bool {
	<-t.completed
	return t.success
}

func localSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return -1
	}
	return fi.Size()
}

// FromURL downloads url to path and calls onComplete exactly once.
// If the size cache knows url and path has the expected size, onComplete(true) is called
// synchronously without any network request.
func (d *Downloader) FromURL(ctx context.Context, url, path string, onComplete concurrency.Done) *Transfer {
	ctx, cancel := context.WithCancel(ctx)
	t := &Transfer{URL: url, Path: path, cancel: cancel, onComplete: onComplete, completed: make(chan struct{})}
	ctx = log.WithFields(ctx, zap.String("url", url), zap.String("path", path))

	expected, cached := d.Cache.Get(url)
	if cached {
		t.ExpectedSize = expected
		if expected != 0 && localSize(path) == expected {
			log.Logger(ctx).Debug("cache hit, skipping download", zap.Int64("size", expected))
			t.complete(true)
			return t
		}
	}

	go func() {
		ch := d.inflight.DoChan(path, func() (interface{}, error) {
			return nil, d.fetch(ctx, t, cached)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				log.Logger(ctx).Error("download failed", zap.Error(res.Err))
			}
			t.complete(res.Err == nil)
		case <-ctx.Done():
			t.complete(false)
		}
	}()
	return t
}

// FromURLAndWait is the blocking version of FromURL
func (d *Downloader) FromURLAndWait(ctx context.Context, url, path string) (bool, error) {
	return concurrency.AndWait(ctx, 0, func(done concurrency.Done) {
		d.FromURL(ctx, url, path, done)
	})
}

// Many downloads all the urls in dir, concurrently. The file names are the last elements of the url paths.
// It returns the local paths.
func (d *Downloader) Many(ctx context.Context, urls []string, dir string, onComplete concurrency.Done) []string {
	paths := make([]string, len(urls))
	for i, u := range urls {
		paths[i] = filepath.Join(dir, utils.URLFileName(u))
	}
	d.ManyToPaths(ctx, urls, paths, onComplete)
	return paths
}

// ManyToPaths downloads urls[i] to paths[i], concurrently
func (d *Downloader) ManyToPaths(ctx context.Context, urls, paths []string, onComplete concurrency.Done) {
	if len(urls) != len(paths) {
		log.Logger(ctx).Sugar().Errorf("ManyToPaths: %d urls for %d paths", len(urls), len(paths))
		onComplete(false)
		return
	}
	concurrency.RunMany(len(urls), func(i int, done concurrency.Done) {
		d.FromURL(ctx, urls[i], paths[i], done)
	}, onComplete)
}

// fetch gets the expected size (if not cached) and downloads the file if needed
func (d *Downloader) fetch(ctx context.Context, t *Transfer, cached bool) error {
	remote := uri.IsRemote(t.URL)
	if !cached {
		var err error
		if remote {
			t.ExpectedSize, err = d.storageSize(ctx, t.URL)
		} else {
			t.ExpectedSize, err = d.head(ctx, t.URL)
		}
		if err != nil {
			log.Logger(ctx).Debug("cannot get the expected size", zap.Error(err))
		}
		if t.ExpectedSize != 0 && localSize(t.Path) == t.ExpectedSize {
			log.Logger(ctx).Debug("file already exists with the expected size, skipping download", zap.Int64("size", t.ExpectedSize))
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(t.Path), 0o755); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	var err error
	if remote {
		err = d.storageGet(ctx, t.URL, t.Path)
	} else {
		err = d.get(ctx, t.URL, t.Path)
	}
	if err != nil {
		return terrain.NewTransientNetworkError(err, "failed to download %s", t.URL)
	}

	size := localSize(t.Path)
	_ = d.Cache.Set(ctx, t.URL, size)
	log.Logger(ctx).Info("downloaded", zap.Int64("size", size))
	return nil
}

// head returns the Content-Length of url, or 0 if it is unknown
func (d *Downloader) head(ctx context.Context, url string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.HeadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", d.UserAgent)
	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, utils.HTTPStatusError{Method: http.MethodHead, URL: url, StatusCode: resp.StatusCode}
	}
	size, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil || size < 0 {
		return 0, nil
	}
	return size, nil
}

// get streams url to path+".part", renamed to path on success
func (d *Downloader) get(ctx context.Context, url, path string) error {
	ctx, cancel := context.WithTimeout(ctx, d.GetTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", d.UserAgent)
	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return utils.HTTPStatusError{Method: http.MethodGet, URL: url, StatusCode: resp.StatusCode}
	}

	part := path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(part)
		return err
	}
	if err = f.Close(); err != nil {
		os.Remove(part)
		return err
	}
	return os.Rename(part, path)
}

func (d *Downloader) storageSize(ctx context.Context, rawURI string) (int64, error) {
	if d.Storage == nil {
		return 0, fmt.Errorf("no storage configured for %s", rawURI)
	}
	ctx, cancel := context.WithTimeout(ctx, d.HeadTimeout)
	defer cancel()
	attrs, err := d.Storage.GetAttrs(ctx, rawURI)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

func (d *Downloader) storageGet(ctx context.Context, rawURI, path string) error {
	if d.Storage == nil {
		return fmt.Errorf("no storage configured for %s", rawURI)
	}
	ctx, cancel := context.WithTimeout(ctx, d.GetTimeout)
	defer cancel()
	return d.Storage.DownloadToFile(ctx, rawURI, path, storage.MaxTries(1))
}
