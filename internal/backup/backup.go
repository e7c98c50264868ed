// Package backup mirrors the documents of an expflow data directory into an
// S3-compatible bucket (AWS S3 or MinIO) and restores them from it.
package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mesh-intelligence/expflow/internal/logger"
	"github.com/mesh-intelligence/expflow/pkg/expflow"
)

// metaChecksum is the object metadata key holding the document's SHA-256.
const metaChecksum = "sha256"

// mirroredDirs are the data subdirectories that hold documents.
var mirroredDirs = []string{expflow.DirParticipants, expflow.DirExperiments}

// Config holds the bucket settings, read from the backup section of
// config.yaml.
type Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"` // optional; e.g. MinIO
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	PathStyle       bool   `mapstructure:"path_style" yaml:"path_style"`
	AccessKeyID     string `mapstructure:"-" yaml:"-"` // optional (falls back to default credentials chain)
	SecretAccessKey string `mapstructure:"-" yaml:"-"`
}

// ErrNoBucket is returned by New when Config.Bucket is empty.
var ErrNoBucket = errors.New("backup bucket required")

// Mirror copies documents between a data directory and a bucket.
type Mirror struct {
	client *s3.Client
	bucket string
	prefix string
	log    *logger.Logger
}

// Option configures a Mirror.
type Option func(*options)

type options struct {
	log    *logger.Logger
	s3opts []func(*s3.Options)
}

// WithLogger sets the logger used to report each transfer.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithS3Options adjusts the S3 client, for example to replace its HTTP client.
func WithS3Options(fn func(*s3.Options)) Option {
	return func(o *options) { o.s3opts = append(o.s3opts, fn) }
}

// New creates a Mirror for cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Mirror, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	o := options{log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		so.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			so.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// S3-compatible servers do not all accept streamed checksums.
		so.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		for _, fn := range o.s3opts {
			fn(so)
		}
	})
	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    o.log,
	}, nil
}

// Report lists the object keys a Push or Restore touched.
type Report struct {
	Transferred []string `json:"transferred"`
	Unchanged   []string `json:"unchanged"`
}

func (m *Mirror) key(sub, name string) string {
	return path.Join(m.prefix, sub, name)
}

// Push uploads every participant and experiment document in dataDir whose
// content differs from the copy in the bucket.
func (m *Mirror) Push(ctx context.Context, dataDir string) (Report, error) {
	var rep Report
	for _, sub := range mirroredDirs {
		entries, err := os.ReadDir(filepath.Join(dataDir, sub))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return rep, fmt.Errorf("listing %s: %w", sub, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !isDocument(entry.Name()) {
				continue
			}
			key := m.key(sub, entry.Name())
			changed, err := m.pushFile(ctx, filepath.Join(dataDir, sub, entry.Name()), key)
			if err != nil {
				return rep, err
			}
			if changed {
				rep.Transferred = append(rep.Transferred, key)
			} else {
				rep.Unchanged = append(rep.Unchanged, key)
			}
		}
	}
	return rep, nil
}

func (m *Mirror) pushFile(ctx context.Context, localPath, key string) (bool, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", localPath, err)
	}
	sum := checksum(data)

	head, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &m.bucket, Key: &key})
	switch {
	case err == nil:
		if head.Metadata[metaChecksum] == sum {
			return false, nil
		}
	case isNotFound(err):
	default:
		return false, fmt.Errorf("checking %s: %w", key, err)
	}

	contentType := "application/json"
	if strings.HasSuffix(key, ".gz") {
		contentType = "application/gzip"
	}
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &m.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{metaChecksum: sum},
	})
	if err != nil {
		return false, fmt.Errorf("uploading %s: %w", key, err)
	}
	m.log.Info("document uploaded", "key", key, "bytes", len(data))
	return true, nil
}

// List returns the keys of every mirrored document in the bucket, sorted.
func (m *Mirror) List(ctx context.Context) ([]string, error) {
	prefix := ""
	if m.prefix != "" {
		prefix = m.prefix + "/"
	}
	var keys []string
	var token *string
	for {
		out, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &m.bucket, Prefix: &prefix, ContinuationToken: token})
		if err != nil {
			return nil, fmt.Errorf("listing bucket %s: %w", m.bucket, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if _, _, ok := m.split(key); ok {
				keys = append(keys, key)
			}
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Strings(keys)
	return keys, nil
}

// Restore downloads every mirrored document that is missing from dataDir.
// Local documents are never overwritten.
func (m *Mirror) Restore(ctx context.Context, dataDir string) (Report, error) {
	var rep Report
	keys, err := m.List(ctx)
	if err != nil {
		return rep, err
	}
	for _, key := range keys {
		sub, name, _ := m.split(key)
		localPath := filepath.Join(dataDir, sub, name)
		if _, err := os.Stat(localPath); err == nil {
			rep.Unchanged = append(rep.Unchanged, key)
			continue
		}
		if err := m.fetch(ctx, key, localPath); err != nil {
			return rep, err
		}
		rep.Transferred = append(rep.Transferred, key)
	}
	return rep, nil
}

func (m *Mirror) fetch(ctx context.Context, key, localPath string) error {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &m.bucket, Key: &key})
	if err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	if want := out.Metadata[metaChecksum]; want != "" && want != checksum(data) {
		return fmt.Errorf("downloading %s: checksum mismatch", key)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", localPath, err)
	}
	m.log.Info("document restored", "key", key, "bytes", len(data))
	return nil
}

// split maps an object key back to a data subdirectory and file name. Keys
// outside the mirrored layout are rejected.
func (m *Mirror) split(key string) (sub, name string, ok bool) {
	rel := key
	if m.prefix != "" {
		var found bool
		rel, found = strings.CutPrefix(key, m.prefix+"/")
		if !found {
			return "", "", false
		}
	}
	sub, name, found := strings.Cut(rel, "/")
	if !found || strings.Contains(name, "/") || !isDocument(name) {
		return "", "", false
	}
	for _, d := range mirroredDirs {
		if d == sub {
			return sub, name, true
		}
	}
	return "", "", false
}

func isDocument(name string) bool {
	return !strings.HasPrefix(name, ".") && (strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.gz"))
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == 404
}
