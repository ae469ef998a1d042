package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"

	"github.com/ashita-ai/kiroku/internal/model"
)

const (
	// s3PartSize is the multipart chunk size for uploads.
	s3PartSize = 10 << 20

	// s3ClientTTL bounds how long a cached client is reused, so rotated
	// credentials are picked up without a restart.
	s3ClientTTL = 15 * time.Minute
)

// s3Repo serves s3:// and gs:// URIs through an S3-compatible client.
type s3Repo struct {
	uri    string
	bucket string
	prefix string
	client *minio.Client
	extra  s3UploadExtra
}

// s3UploadExtra carries per-deployment upload arguments applied to every
// PutObject.
type s3UploadExtra struct {
	sse      encrypt.ServerSide
	tags     map[string]string
	metadata map[string]string
}

var (
	uploadExtraOnce sync.Once
	uploadExtra     s3UploadExtra
	uploadExtraErr  error
)

// s3UploadExtraFromEnv parses KIROKU_S3_UPLOAD_EXTRA_ARGS once per
// process.
func s3UploadExtraFromEnv() (s3UploadExtra, error) {
	uploadExtraOnce.Do(func() {
		if raw := os.Getenv("KIROKU_S3_UPLOAD_EXTRA_ARGS"); raw != "" {
			uploadExtra, uploadExtraErr = parseS3UploadExtra(raw)
		}
	})
	return uploadExtra, uploadExtraErr
}

// parseS3UploadExtra reads a JSON object of extra upload arguments.
// ServerSideEncryption (with optional SSEKMSKeyId) and Tagging map to
// their native options; every other key passes through as user metadata.
func parseS3UploadExtra(raw string) (s3UploadExtra, error) {
	var args map[string]string
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return s3UploadExtra{}, fmt.Errorf("artifact: parse KIROKU_S3_UPLOAD_EXTRA_ARGS: %w", err)
	}
	var extra s3UploadExtra
	for k, v := range args {
		switch k {
		case "ServerSideEncryption", "SSEKMSKeyId":
			// Handled together below.
		case "Tagging":
			tags, err := url.ParseQuery(v)
			if err != nil {
				return s3UploadExtra{}, fmt.Errorf("artifact: parse upload Tagging: %w", err)
			}
			extra.tags = map[string]string{}
			for key := range tags {
				extra.tags[key] = tags.Get(key)
			}
		default:
			if extra.metadata == nil {
				extra.metadata = map[string]string{}
			}
			extra.metadata[k] = v
		}
	}
	switch args["ServerSideEncryption"] {
	case "":
	case "AES256":
		extra.sse = encrypt.NewSSE()
	case "aws:kms":
		sse, err := encrypt.NewSSEKMS(args["SSEKMSKeyId"], nil)
		if err != nil {
			return s3UploadExtra{}, fmt.Errorf("artifact: upload SSE-KMS: %w", err)
		}
		extra.sse = sse
	default:
		return s3UploadExtra{}, fmt.Errorf("artifact: unsupported ServerSideEncryption %q", args["ServerSideEncryption"])
	}
	return extra, nil
}

type cachedClient struct {
	client  *minio.Client
	created time.Time
}

// s3ClientCache reuses clients across repositories. The key fingerprints
// endpoint, region, and credentials.
type s3ClientCache struct {
	mu      sync.Mutex
	clients map[string]cachedClient
}

func newS3ClientCache() *s3ClientCache {
	return &s3ClientCache{clients: map[string]cachedClient{}}
}

type s3Config struct {
	endpoint  string
	region    string
	accessKey string
	secretKey string
	session   string
	secure    bool
	insecure  bool
}

// s3ConfigFromEnv reads connection settings. KIROKU_S3_ENDPOINT_URL
// overrides the AWS default, which also makes MinIO and other compatible
// stores work.
func s3ConfigFromEnv(scheme string) (s3Config, error) {
	cfg := s3Config{
		region:    os.Getenv("AWS_DEFAULT_REGION"),
		accessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		secretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		session:   os.Getenv("AWS_SESSION_TOKEN"),
		secure:    true,
		insecure:  os.Getenv("KIROKU_S3_IGNORE_TLS") == "true",
	}
	switch scheme {
	case "gs":
		cfg.endpoint = "storage.googleapis.com"
	default:
		cfg.endpoint = "s3.amazonaws.com"
		if ep := os.Getenv("KIROKU_S3_ENDPOINT_URL"); ep != "" {
			u, err := url.Parse(ep)
			if err != nil {
				return s3Config{}, fmt.Errorf("artifact: parse S3 endpoint: %w", err)
			}
			cfg.endpoint = u.Host
			cfg.secure = u.Scheme != "http"
		}
	}
	return cfg, nil
}

func (c s3Config) fingerprint() string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		c.endpoint, c.region, c.accessKey, c.secretKey, c.session,
	}, "\x00")))
	return hex.EncodeToString(h[:8])
}

func (cc *s3ClientCache) get(cfg s3Config) (*minio.Client, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	key := cfg.fingerprint()
	if cached, ok := cc.clients[key]; ok && time.Since(cached.created) < s3ClientTTL {
		return cached.client, nil
	}

	var creds *credentials.Credentials
	if cfg.accessKey != "" {
		creds = credentials.NewStaticV4(cfg.accessKey, cfg.secretKey, cfg.session)
	} else {
		creds = credentials.NewIAM("")
	}
	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.secure && !cfg.insecure,
		Region: cfg.region,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: create S3 client: %w", err)
	}
	cc.clients[key] = cachedClient{client: client, created: time.Now()}
	return client, nil
}

func newS3Repo(cache *s3ClientCache, u *url.URL) (*s3Repo, error) {
	if u.Host == "" {
		return nil, model.Errorf(model.ErrCodeInvalidParameterValue,
			"artifact URI %q has no bucket", u.String())
	}
	cfg, err := s3ConfigFromEnv(u.Scheme)
	if err != nil {
		return nil, err
	}
	client, err := cache.get(cfg)
	if err != nil {
		return nil, err
	}
	extra, err := s3UploadExtraFromEnv()
	if err != nil {
		return nil, err
	}
	return &s3Repo{
		uri:    u.String(),
		bucket: u.Host,
		prefix: strings.Trim(u.Path, "/"),
		client: client,
		extra:  extra,
	}, nil
}

func (s *s3Repo) URI() string { return s.uri }

func (s *s3Repo) key(p string) (string, error) {
	rel, err := cleanRelPath(p)
	if err != nil {
		return "", err
	}
	return joinPath(s.prefix, rel), nil
}

// contentType infers MIME type and encoding from the extension. Compound
// suffixes like .tar.gz report the archive type with gzip encoding.
func contentType(name string) (ctype, encoding string) {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return "application/x-tar", "gzip"
	case strings.HasSuffix(name, ".gz"):
		return "application/octet-stream", "gzip"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t, ""
	}
	return "application/octet-stream", ""
}

func (s *s3Repo) Upload(ctx context.Context, p string, r io.Reader, size int64) error {
	key, err := s.key(p)
	if err != nil {
		return err
	}
	ctype, encoding := contentType(p)
	err = withBackoff(ctx, func() error {
		_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
			ContentType:          ctype,
			ContentEncoding:      encoding,
			PartSize:             s3PartSize,
			ServerSideEncryption: s.extra.sse,
			UserTags:             s.extra.tags,
			UserMetadata:         s.extra.metadata,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("artifact: S3 upload %s: %w", key, err)
	}
	return nil
}

func (s *s3Repo) Open(ctx context.Context, p string) (io.ReadCloser, int64, error) {
	key, err := s.key(p)
	if err != nil {
		return nil, 0, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("artifact: S3 get %s: %w", key, err)
	}
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.StatusCode == 404 {
			return nil, 0, model.Errorf(model.ErrCodeResourceDoesNotExist,
				"artifact %q not found", p)
		}
		return nil, 0, fmt.Errorf("artifact: S3 stat %s: %w", key, err)
	}
	return obj, st.Size, nil
}

// ReadRange fetches [off, off+length) of the object, enabling parallel
// chunked downloads.
func (s *s3Repo) ReadRange(ctx context.Context, p string, off, length int64) (io.ReadCloser, error) {
	key, err := s.key(p)
	if err != nil {
		return nil, err
	}
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, off+length-1); err != nil {
		return nil, fmt.Errorf("artifact: set range: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, fmt.Errorf("artifact: S3 range get %s: %w", key, err)
	}
	return obj, nil
}

func (s *s3Repo) List(ctx context.Context, p string) ([]FileInfo, error) {
	rel, err := cleanRelPath(p)
	if err != nil {
		return nil, err
	}
	prefix := joinPath(s.prefix, rel)
	if prefix != "" {
		prefix += "/"
	}
	var out []FileInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix: prefix,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("artifact: S3 list: %w", obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		isDir := strings.HasSuffix(name, "/")
		fi := FileInfo{
			Path:  joinPath(rel, strings.TrimSuffix(name, "/")),
			IsDir: isDir,
		}
		if !isDir {
			fi.Size = obj.Size
		}
		out = append(out, fi)
	}
	return out, nil
}

// s3ObjectRemover is the slice of the S3 client Delete needs; *minio.Client
// satisfies it.
type s3ObjectRemover interface {
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// s3DeleteTree removes the object at key and, when key names a subtree,
// every object under it. Object stores have no directories, so the
// subtree is enumerated by prefix.
func s3DeleteTree(ctx context.Context, c s3ObjectRemover, bucket, key string) error {
	if key != "" {
		if err := c.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return err
		}
	}
	prefix := key
	if prefix != "" {
		prefix += "/"
	}
	for obj := range c.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return obj.Err
		}
		if err := c.RemoveObject(ctx, bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return err
		}
	}
	return nil
}

func (s *s3Repo) Delete(ctx context.Context, p string) error {
	key, err := s.key(p)
	if err != nil {
		return err
	}
	err = withBackoff(ctx, func() error {
		return s3DeleteTree(ctx, s.client, s.bucket, key)
	})
	if err != nil {
		return fmt.Errorf("artifact: S3 delete %s: %w", key, err)
	}
	return nil
}
