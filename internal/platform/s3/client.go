// Package s3 implements the worker.ArtifactStore interface on top of
// Amazon S3 or any S3-compatible object store (MinIO in development).
// Artifact references are s3://<bucket>/<key> URIs so a stored reference
// is self-describing and survives bucket reconfiguration.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/studioforge/forge-api/internal/config"
	"github.com/studioforge/forge-api/internal/worker"
)

const refScheme = "s3://"

// ErrInvalidRef indicates that an artifact reference is not a well-formed
// s3://<bucket>/<key> URI.
var ErrInvalidRef = errors.New("invalid artifact reference")

// Client handles artifact storage in S3.
type Client struct {
	client *awss3.Client
	bucket string
}

// NewClient creates a new S3 artifact client from storage configuration.
// A non-empty endpoint switches the client to path-style addressing for
// MinIO and other S3-compatible services.
func NewClient(ctx context.Context, cfg config.StorageConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket cannot be empty")
	}
	if cfg.Region == "" {
		return nil, errors.New("storage region cannot be empty")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *awss3.Client
	if cfg.Endpoint != "" {
		client = awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	} else {
		client = awss3.NewFromConfig(awsCfg)
	}

	return &Client{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Store uploads the artifact under the task's namespace and returns its
// reference. Key layout: artifacts/<owner>/<task>/<name>.
func (c *Client) Store(
	ctx context.Context,
	ownerID uuid.UUID,
	taskID uuid.UUID,
	artifact *worker.Artifact,
) (string, error) {
	if artifact == nil || artifact.Name == "" {
		return "", errors.New("artifact name cannot be empty")
	}

	key := artifactKey(ownerID, taskID, artifact.Name)

	_, err := c.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(artifact.Data),
		ContentType: aws.String(artifact.MIMEType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact to S3: %w", err)
	}

	return refScheme + c.bucket + "/" + key, nil
}

// Fetch retrieves a previously stored artifact by reference.
func (c *Client) Fetch(ctx context.Context, ref string) (*worker.Artifact, error) {
	bucket, key, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	output, err := c.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact from S3: %w", err)
	}
	defer func() { _ = output.Body.Close() }()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact body: %w", err)
	}

	contentType := "application/octet-stream"
	if output.ContentType != nil {
		contentType = *output.ContentType
	}

	return &worker.Artifact{
		Name:     path.Base(key),
		MIMEType: contentType,
		Data:     data,
	}, nil
}

// Delete removes a stored artifact.
func (c *Client) Delete(ctx context.Context, ref string) error {
	bucket, key, err := parseRef(ref)
	if err != nil {
		return err
	}

	_, err = c.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete artifact from S3: %w", err)
	}

	return nil
}

// artifactKey builds the object key for an artifact.
func artifactKey(ownerID, taskID uuid.UUID, name string) string {
	return fmt.Sprintf("artifacts/%s/%s/%s", ownerID, taskID, name)
}

// parseRef splits an s3://<bucket>/<key> reference into bucket and key.
func parseRef(ref string) (bucket, key string, err error) {
	if !strings.HasPrefix(ref, refScheme) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	rest := strings.TrimPrefix(ref, refScheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	return bucket, key, nil
}
