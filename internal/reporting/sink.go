package reporting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Artifact names
const (
	JSONReportName     = "capacity-planning-report.json"
	MarkdownReportName = "capacity-planning-report.md"
	MetricsName        = "capacity-planning-metrics.prom"
	RawDir             = "raw"
)

// Content types
const (
	ContentTypeJSON     = "application/json"
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	ContentTypeMetrics  = "text/plain; version=0.0.4"
	ContentTypeZstd     = "application/zstd"
)

// Sink stores named artifacts.
type Sink interface {
	// Put stores data under name and returns where it went.
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// FileSink writes artifacts into a directory.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed and checks that it is writable.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, errors.New("report dir is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return nil, fmt.Errorf("report dir %s is not writable: %w", dir, err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return &FileSink{dir: dir}, nil
}

// Dir returns the target directory.
func (s *FileSink) Dir() string {
	return s.dir
}

// Put writes through a temporary file and renames it into place.
func (s *FileSink) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	dst := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return dst, nil
}

// S3Config configures an S3-compatible artifact bucket.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// s3PutAPI is the slice of the S3 client the sink needs.
type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads artifacts to a bucket.
type S3Sink struct {
	client s3PutAPI
	bucket string
	prefix string
}

// NewS3Sink builds a client from cfg. Static credentials are used when
// given, otherwise the default AWS chain applies. A custom endpoint switches
// to path-style addressing for S3-compatible stores.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put uploads data to prefix/name.
func (s *S3Sink) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key := path.Join(s.prefix, name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Writer persists artifacts to a primary sink and best-effort mirrors.
type Writer struct {
	primary Sink
	mirrors []Sink
	logger  *zap.Logger
}

// NewWriter creates a writer. Failures on primary are returned; failures on
// mirrors are logged.
func NewWriter(primary Sink, logger *zap.Logger, mirrors ...Sink) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{primary: primary, mirrors: mirrors, logger: logger.Named("reporting")}
}

// WriteReport validates and stores the JSON and Markdown renderings.
func (w *Writer) WriteReport(ctx context.Context, r *CapacityReport) ([]string, error) {
	data, err := r.JSON()
	if err != nil {
		return nil, err
	}
	if err := Validate(data); err != nil {
		return nil, err
	}

	var locations []string
	for _, a := range []struct {
		name        string
		data        []byte
		contentType string
	}{
		{JSONReportName, data, ContentTypeJSON},
		{MarkdownReportName, r.Markdown(), ContentTypeMarkdown},
	} {
		loc, err := w.Put(ctx, a.name, a.data, a.contentType)
		if err != nil {
			return locations, err
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

// Put stores one artifact on every sink.
func (w *Writer) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	loc, err := w.primary.Put(ctx, name, data, contentType)
	if err != nil {
		return "", err
	}
	w.logger.Info("wrote artifact", zap.String("location", loc), zap.Int("bytes", len(data)))
	w.mirror(ctx, name, data, contentType)
	return loc, nil
}

// MirrorFile copies a file that already sits in the primary location to
// the mirrors only.
func (w *Writer) MirrorFile(ctx context.Context, name, src, contentType string) error {
	if len(w.mirrors) == 0 {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	w.mirror(ctx, name, data, contentType)
	return nil
}

func (w *Writer) mirror(ctx context.Context, name string, data []byte, contentType string) {
	for _, m := range w.mirrors {
		loc, err := m.Put(ctx, name, data, contentType)
		if err != nil {
			w.logger.Warn("mirror artifact", zap.String("name", name), zap.Error(err))
			continue
		}
		w.logger.Info("mirrored artifact", zap.String("location", loc))
	}
}
