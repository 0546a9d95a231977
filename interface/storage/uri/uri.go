package uri

import (
	"context"
	"fmt"
	"io"
	pathPkg "path"
	"regexp"
	"strings"
	"sync"

	"github.com/airbusgeo/terrainfetch/interface/storage"
	"github.com/airbusgeo/terrainfetch/interface/storage/filesystem"
	"github.com/airbusgeo/terrainfetch/interface/storage/gcs"
	"github.com/airbusgeo/terrainfetch/interface/storage/s3"
	"github.com/airbusgeo/terrainfetch/internal/utils"
)

var (
	BadUriErr = fmt.Errorf("badly formatted storage uri")
	uriRegex  = regexp.MustCompile("^(?P<Protocol>[a-zA-Z0-9]+)://(?P<BucketName>.+?)(/(?P<Path>(?:.*/)*(?P<FileName>.*)))?$")
)

// IsRemote returns true if rawURI has a storage scheme (gs://, s3:// or file://)
func IsRemote(rawURI string) bool {
	u, err := ParseUri(rawURI)
	if err != nil {
		return false
	}
	switch u.Protocol() {
	case "gs", "s3", "file":
		return true
	}
	return false
}

// ParseUri parse a storage uri (e.g. gs://bucket-name/path/to/file)
func ParseUri(rawURI string) (DefaultUri, error) {
	if strings.HasPrefix(rawURI, "/") {
		//local path
		return DefaultUri{
			path:     rawURI,
			fileName: pathPkg.Base(rawURI),
		}, nil
	}
	if strings.HasPrefix(rawURI, "file:///") {
		return DefaultUri{
			protocol: "file",
			path:     strings.TrimPrefix(rawURI, "file://"),
			fileName: pathPkg.Base(rawURI),
		}, nil
	}
	matches, err := utils.FindRegexGroups(uriRegex, rawURI)
	if err != nil {
		return DefaultUri{}, BadUriErr
	}

	protocol := strings.ToLower(matches["Protocol"])
	bucket := matches["BucketName"]
	path := matches["Path"]
	if bucket == "" {
		return DefaultUri{}, fmt.Errorf("invalid bucket name: %w", BadUriErr)
	}
	if protocol == "file" {
		return DefaultUri{
			protocol: protocol,
			path:     pathPkg.Join(bucket, path),
			fileName: matches["FileName"],
		}, nil
	}
	return DefaultUri{
		protocol: protocol,
		bucket:   bucket,
		path:     path,
		fileName: matches["FileName"],
	}, nil
}

func NewUri(protocol, bucketName, path string) DefaultUri {
	return DefaultUri{
		protocol: protocol,
		bucket:   bucketName,
		path:     path,
		fileName: pathPkg.Base(path),
	}
}

type DefaultUri struct {
	protocol string
	bucket   string
	path     string
	fileName string
}

func (u DefaultUri) Protocol() string {
	return u.protocol
}

func (u DefaultUri) Bucket() string {
	return u.bucket
}

func (u DefaultUri) Path() string {
	return u.path
}

func (u DefaultUri) FileName() string {
	return u.fileName
}

// Join returns the uri of elem relatively to u
func (u DefaultUri) Join(elem ...string) DefaultUri {
	return NewUri(u.protocol, u.bucket, pathPkg.Join(append([]string{u.path}, elem...)...))
}

func (u DefaultUri) String() string {
	switch {
	case u.protocol == "" && u.bucket == "":
		return u.path
	case u.protocol == "file":
		return "file://" + u.path
	}
	return fmt.Sprintf("%s://%s/%s", u.protocol, u.bucket, u.path)
}

// Resolver returns the storage strategy of a uri.
// Strategies are created on first use and shared.
type Resolver struct {
	S3 s3.Config

	mu         sync.Mutex
	strategies map[string]storage.Strategy
}

// NewResolver creates a resolver using s3cfg for s3:// uris
func NewResolver(s3cfg s3.Config) *Resolver {
	return &Resolver{S3: s3cfg}
}

// Register forces the strategy used for protocol
func (r *Resolver) Register(protocol string, s storage.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.strategies == nil {
		r.strategies = map[string]storage.Strategy{}
	}
	r.strategies[protocol] = s
}

// Strategy returns the strategy handling u
func (r *Resolver) Strategy(ctx context.Context, u DefaultUri) (storage.Strategy, error) {
	protocol := u.Protocol()
	if protocol == "" {
		protocol = "file"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.strategies[protocol]; ok {
		return s, nil
	}
	var s storage.Strategy
	var err error
	switch protocol {
	case "gs":
		s, err = gcs.NewGsStrategy(ctx)
	case "file":
		s, err = filesystem.NewFileSystemStrategy(ctx)
	case "s3":
		s, err = s3.NewS3Strategy(ctx, r.S3)
	default:
		return nil, fmt.Errorf("failed to determine storage strategy of %s", u.String())
	}
	if err != nil {
		return nil, err
	}
	if r.strategies == nil {
		r.strategies = map[string]storage.Strategy{}
	}
	r.strategies[protocol] = s
	return s, nil
}

func (r *Resolver) parse(ctx context.Context, rawURI string) (storage.Strategy, string, error) {
	u, err := ParseUri(rawURI)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", rawURI, err)
	}
	s, err := r.Strategy(ctx, u)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get storage strategy: %w", err)
	}
	return s, u.String(), nil
}

func (r *Resolver) DownloadToFile(ctx context.Context, rawURI, destination string, options ...storage.Option) error {
	s, u, err := r.parse(ctx, rawURI)
	if err != nil {
		return err
	}
	return s.DownloadToFile(ctx, u, destination, options...)
}

func (r *Resolver) UploadFile(ctx context.Context, rawURI string, data io.ReadCloser, options ...storage.Option) error {
	s, u, err := r.parse(ctx, rawURI)
	if err != nil {
		data.Close()
		return err
	}
	return s.UploadFile(ctx, u, data, options...)
}

func (r *Resolver) GetAttrs(ctx context.Context, rawURI string) (storage.Attrs, error) {
	s, u, err := r.parse(ctx, rawURI)
	if err != nil {
		return storage.Attrs{}, err
	}
	return s.GetAttrs(ctx, u)
}

func (r *Resolver) Exist(ctx context.Context, rawURI string) (bool, error) {
	s, u, err := r.parse(ctx, rawURI)
	if err != nil {
		return false, err
	}
	return s.Exist(ctx, u)
}

func (r *Resolver) Delete(ctx context.Context, rawURI string, options ...storage.Option) error {
	s, u, err := r.parse(ctx, rawURI)
	if err != nil {
		return err
	}
	return s.Delete(ctx, u, options...)
}
