package download_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/airbusgeo/terrainfetch/interface/storage"
	"github.com/airbusgeo/terrainfetch/internal/download"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type tileServer struct {
	*httptest.Server
	heads, gets   int32
	badAgents     int32
	body          string
	status        int
	contentLength bool
	delay         time.Duration
}

func newTileServer(body string) *tileServer {
	s := &tileServer{body: body, status: http.StatusOK, contentLength: true}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "terrainfetch/") {
			atomic.AddInt32(&s.badAgents, 1)
		}
		switch r.Method {
		case http.MethodHead:
			atomic.AddInt32(&s.heads, 1)
			if s.contentLength {
				w.Header().Set("Content-Length", strconv.Itoa(len(s.body)))
			}
			w.WriteHeader(s.status)
		case http.MethodGet:
			atomic.AddInt32(&s.gets, 1)
			if s.delay > 0 {
				select {
				case <-time.After(s.delay):
				case <-r.Context().Done():
					return
				}
			}
			if s.status != http.StatusOK {
				w.WriteHeader(s.status)
				return
			}
			w.Write([]byte(s.body))
		}
	}))
	return s
}

func (s *tileServer) calls() int32 {
	return atomic.LoadInt32(&s.heads) + atomic.LoadInt32(&s.gets)
}

var _ = Describe("Downloader", func() {
	var (
		ctx    = context.Background()
		dir    string
		cache  *download.SizeCache
		server *tileServer
		d      *download.Downloader
		path   string
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "download")
		Expect(err).To(BeNil())
		cache = download.NewSizeCache(filepath.Join(dir, download.CacheFile))
		server = newTileServer(strings.Repeat("x", 1000))
		d = download.New(cache, nil)
		path = filepath.Join(dir, "Download", "N45E006.hgt")
	})

	AfterEach(func() {
		Expect(atomic.LoadInt32(&server.badAgents)).To(BeZero())
		server.Close()
		os.RemoveAll(dir)
	})

	Context("cache hit with a matching local file", func() {
		BeforeEach(func() {
			Expect(cache.Set(ctx, server.URL+"/N45E006.hgt", 1000)).To(Succeed())
			Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
			Expect(os.WriteFile(path, []byte(strings.Repeat("y", 1000)), 0o644)).To(Succeed())
		})

		It("should complete without any network call", func() {
			var result int32
			d.FromURL(ctx, server.URL+"/N45E006.hgt", path, func(success bool) {
				if success {
					atomic.StoreInt32(&result, 1)
				}
			})
			Expect(atomic.LoadInt32(&result)).To(BeEquivalentTo(1))
			Expect(server.calls()).To(BeZero())
		})
	})

	Context("cache hit with a truncated local file", func() {
		BeforeEach(func() {
			Expect(cache.Set(ctx, server.URL+"/N45E006.hgt", 1000)).To(Succeed())
			Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
			Expect(os.WriteFile(path, []byte("y"), 0o644)).To(Succeed())
		})

		It("should download again without probing the size", func() {
			ok, err := d.FromURLAndWait(ctx, server.URL+"/N45E006.hgt", path)
			Expect(err).To(BeNil())
			Expect(ok).To(BeTrue())
			Expect(atomic.LoadInt32(&server.heads)).To(BeZero())
			Expect(atomic.LoadInt32(&server.gets)).To(BeEquivalentTo(1))
			b, _ := os.ReadFile(path)
			Expect(b).To(HaveLen(1000))
		})
	})

	Context("no cache entry", func() {
		It("should probe, download and record the size", func() {
			ok, err := d.FromURLAndWait(ctx, server.URL+"/N45E006.hgt", path)
			Expect(err).To(BeNil())
			Expect(ok).To(BeTrue())
			Expect(atomic.LoadInt32(&server.heads)).To(BeEquivalentTo(1))
			Expect(atomic.LoadInt32(&server.gets)).To(BeEquivalentTo(1))
			size, found := cache.Get(server.URL + "/N45E006.hgt")
			Expect(found).To(BeTrue())
			Expect(size).To(BeEquivalentTo(1000))
			_, err = os.Stat(path + ".part")
			Expect(os.IsNotExist(err)).To(BeTrue())

			reloaded, err := download.LoadSizeCache(filepath.Join(dir, download.CacheFile))
			Expect(err).To(BeNil())
			Expect(reloaded.Entries()).To(Equal(cache.Entries()))
		})

		It("should skip the download if the file already has the probed size", func() {
			Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
			Expect(os.WriteFile(path, []byte(strings.Repeat("y", 1000)), 0o644)).To(Succeed())
			ok, err := d.FromURLAndWait(ctx, server.URL+"/N45E006.hgt", path)
			Expect(err).To(BeNil())
			Expect(ok).To(BeTrue())
			Expect(atomic.LoadInt32(&server.gets)).To(BeZero())
		})
	})

	Context("HEAD without Content-Length", func() {
		BeforeEach(func() {
			server.contentLength = false
			Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
			Expect(os.WriteFile(path, nil, 0o644)).To(Succeed())
		})

		It("should still download", func() {
			ok, err := d.FromURLAndWait(ctx, server.URL+"/N45E006.hgt", path)
			Expect(err).To(BeNil())
			Expect(ok).To(BeTrue())
			Expect(atomic.LoadInt32(&server.gets)).To(BeEquivalentTo(1))
		})
	})

	Context("failed GET", func() {
		BeforeEach(func() { server.status = http.StatusServiceUnavailable })

		It("should fail and leave the cache untouched", func() {
			ok, err := d.FromURLAndWait(ctx, server.URL+"/N45E006.hgt", path)
			Expect(err).To(BeNil())
			Expect(ok).To(BeFalse())
			Expect(cache.Len()).To(BeZero())
			_, err = os.Stat(path)
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})

	Context("cancel", func() {
		BeforeEach(func() { server.delay = 5 * time.Second })

		It("should complete exactly once with false", func() {
			var calls, successes int32
			t := d.FromURL(ctx, server.URL+"/N45E006.hgt", path, func(success bool) {
				atomic.AddInt32(&calls, 1)
				if success {
					atomic.AddInt32(&successes, 1)
				}
			})
			time.Sleep(50 * time.Millisecond)
			go t.Cancel()
			t.Cancel()
			Eventually(t.Done()).Should(BeClosed())
			Expect(t.Success()).To(BeFalse())
			Consistently(func() int32 { return atomic.LoadInt32(&calls) }, 200*time.Millisecond).Should(BeEquivalentTo(1))
			Expect(atomic.LoadInt32(&successes)).To(BeZero())
			Expect(cache.Len()).To(BeZero())
		})

		It("should be a no-op once completed", func() {
			server.delay = 0
			var calls int32
			t := d.FromURL(ctx, server.URL+"/N45E006.hgt", path, func(bool) { atomic.AddInt32(&calls, 1) })
			Eventually(t.Done(), 5*time.Second).Should(BeClosed())
			t.Cancel()
			Expect(t.Success()).To(BeTrue())
			Expect(atomic.LoadInt32(&calls)).To(BeEquivalentTo(1))
		})
	})

	Context("many", func() {
		It("should download every file and aggregate the results", func() {
			urls := []string{server.URL + "/a/N45E006.hgt?key=1", server.URL + "/b/N45E007.hgt", server.URL + "/b/N46E006.hgt"}
			done := make(chan bool, 1)
			paths := d.Many(ctx, urls, filepath.Join(dir, "Download"), func(success bool) { done <- success })
			Eventually(done, 5*time.Second).Should(Receive(BeTrue()))
			Expect(paths).To(Equal([]string{
				filepath.Join(dir, "Download", "N45E006.hgt"),
				filepath.Join(dir, "Download", "N45E007.hgt"),
				filepath.Join(dir, "Download", "N46E006.hgt"),
			}))
			Expect(cache.Len()).To(Equal(3))
		})

		It("should fail if any download fails", func() {
			urls := []string{server.URL + "/N45E006.hgt", "http://127.0.0.1:1/N45E007.hgt"}
			done := make(chan bool, 1)
			d.Many(ctx, urls, filepath.Join(dir, "Download"), func(success bool) { done <- success })
			Eventually(done, 15*time.Second).Should(Receive(BeFalse()))
		})
	})

	Context("storage urls", func() {
		It("should use the storage", func() {
			fake := &fakeStorage{content: "elevation"}
			d.Storage = fake
			ok, err := d.FromURLAndWait(ctx, "gs://bucket/dem/N45E006.hgt", path)
			Expect(err).To(BeNil())
			Expect(ok).To(BeTrue())
			size, _ := cache.Get("gs://bucket/dem/N45E006.hgt")
			Expect(size).To(BeEquivalentTo(9))
			Expect(server.calls()).To(BeZero())

			ok, err = d.FromURLAndWait(ctx, "gs://bucket/dem/N45E006.hgt", path)
			Expect(err).To(BeNil())
			Expect(ok).To(BeTrue())
			Expect(atomic.LoadInt32(&fake.downloads)).To(BeEquivalentTo(1))
		})
	})
})

type fakeStorage struct {
	content   string
	downloads int32
}

func (f *fakeStorage) DownloadToFile(ctx context.Context, rawURI, destination string, options ...storage.Option) error {
	atomic.AddInt32(&f.downloads, 1)
	return os.WriteFile(destination, []byte(f.content), 0o644)
}

func (f *fakeStorage) GetAttrs(ctx context.Context, rawURI string) (storage.Attrs, error) {
	return storage.Attrs{Size: int64(len(f.content))}, nil
}
