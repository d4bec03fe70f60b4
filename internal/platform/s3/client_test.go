package s3

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studioforge/forge-api/internal/config"
)

func TestNewClient_ValidatesConfig(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, config.StorageConfig{Region: "us-east-1"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")

	_, err = NewClient(ctx, config.StorageConfig{Bucket: "forge-artifacts"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "region")

	client, err := NewClient(ctx, config.StorageConfig{
		Bucket:    "forge-artifacts",
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test",
	})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestArtifactKey(t *testing.T) {
	ownerID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	taskID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	key := artifactKey(ownerID, taskID, "base.png")
	assert.Equal(t,
		"artifacts/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222/base.png",
		key)
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		name       string
		ref        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{
			name:       "valid ref",
			ref:        "s3://forge-artifacts/artifacts/owner/task/base.png",
			wantBucket: "forge-artifacts",
			wantKey:    "artifacts/owner/task/base.png",
		},
		{
			name:    "missing scheme",
			ref:     "forge-artifacts/artifacts/base.png",
			wantErr: true,
		},
		{
			name:    "no key",
			ref:     "s3://forge-artifacts",
			wantErr: true,
		},
		{
			name:    "empty bucket",
			ref:     "s3:///artifacts/base.png",
			wantErr: true,
		},
		{
			name:    "empty string",
			ref:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := parseRef(tt.ref)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRef)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}
