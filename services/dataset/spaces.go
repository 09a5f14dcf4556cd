package dataset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/sahilchouksey/askable/config"
)

// SpacesClient reads and writes dataset objects in DigitalOcean Spaces
type SpacesClient struct {
	s3Client s3iface.S3API
	bucket   string
	endpoint string
}

// SpacesConfig holds configuration for Spaces client
type SpacesConfig struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Endpoint  string
	// PathStyle addresses the bucket in the path, as S3 emulators expect.
	PathStyle bool
}

// SpacesConfigFromEnv returns ok=false when no bucket is configured.
func SpacesConfigFromEnv(env *config.EnviornmentVariable) (SpacesConfig, bool) {
	cfg := SpacesConfig{
		AccessKey: env.DO_SPACES_KEY,
		SecretKey: env.DO_SPACES_SECRET,
		Bucket:    env.DO_SPACES_BUCKET,
		Region:    env.DO_SPACES_REGION,
		Endpoint:  env.DO_SPACES_ENDPOINT,
	}
	return cfg, cfg.Bucket != ""
}

// NewSpacesClient creates a new Spaces client
func NewSpacesClient(cfg SpacesConfig) (*SpacesClient, error) {
	if _, err := config.Require("DO_SPACES_KEY", cfg.AccessKey); err != nil {
		return nil, err
	}
	if _, err := config.Require("DO_SPACES_SECRET", cfg.SecretKey); err != nil {
		return nil, err
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.PathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Spaces session: %w", err)
	}
	return NewSpacesClientWithAPI(s3.New(sess), cfg.Bucket, cfg.Endpoint), nil
}

// NewSpacesClientWithAPI wraps an existing S3 API implementation.
func NewSpacesClientWithAPI(api s3iface.S3API, bucket, endpoint string) *SpacesClient {
	return &SpacesClient{s3Client: api, bucket: bucket, endpoint: endpoint}
}

func (s *SpacesClient) Bucket() string {
	return s.bucket
}

// DownloadFile downloads an object from the bucket
func (s *SpacesClient) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	result, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer result.Body.Close()

	return io.ReadAll(result.Body)
}

// UploadBytes stores data under key and returns its public URL
func (s *SpacesClient) UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	return s.ObjectURL(key), nil
}

func (s *SpacesClient) ObjectURL(key string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(s.endpoint, "https://"), "http://")
	if host == "" {
		host = "s3.amazonaws.com"
	}
	return fmt.Sprintf("https://%s.%s/%s", s.bucket, host, key)
}

// KeyFromURL returns the object key when raw points into this bucket, either
// virtual-hosted (bucket.host/key), path style (host/bucket/key) or an
// s3://bucket/key reference.
func (s *SpacesClient) KeyFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	p := strings.TrimPrefix(u.Path, "/")

	switch {
	case u.Scheme == "s3" && u.Host == s.bucket:
		return p, p != ""
	case strings.HasPrefix(u.Host, s.bucket+"."):
		return p, p != ""
	case strings.HasPrefix(p, s.bucket+"/"):
		key := strings.TrimPrefix(p, s.bucket+"/")
		return key, key != ""
	}
	return "", false
}
