package client

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/auditforge/api/internal/config"
)

// R2ArtifactStore stores reports in a Cloudflare R2 bucket.
type R2ArtifactStore struct {
	s3Client   *s3.Client
	bucketName string
}

// NewR2ArtifactStore creates an R2-backed artifact store
func NewR2ArtifactStore(cfg *config.R2Config) (*R2ArtifactStore, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("R2 configuration incomplete")
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: endpoint,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithEndpointResolverWithOptions(r2Resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &R2ArtifactStore{
		s3Client:   s3.NewFromConfig(awsCfg),
		bucketName: cfg.BucketName,
	}, nil
}

// Write uploads the report and returns its object key as the
// artifact reference.
func (s *R2ArtifactStore) Write(ctx context.Context, jobID, content string) (string, error) {
	key := fmt.Sprintf("reports/%s/report.txt", jobID)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain; charset=utf-8"),
	}
	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload report: %w", err)
	}
	return key, nil
}

// Read downloads a report by its object key.
func (s *R2ArtifactStore) Read(ctx context.Context, ref string) (string, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(ref),
	})
	if err != nil {
		return "", fmt.Errorf("failed to download report: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read report body: %w", err)
	}
	return string(data), nil
}
