package s3backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_EmptyBucket(t *testing.T) {
	ctx := context.Background()
	b, err := New(ctx, "", "", DefaultConfig())
	assert.Error(t, err)
	assert.Nil(t, b)
	assert.Contains(t, err.Error(), "bucket name cannot be empty")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.True(t, cfg.EnableCargoShip)
}

func TestFullKey(t *testing.T) {
	b := &Backend{prefix: "datasets/v1"}
	assert.Equal(t, "datasets/v1/a.txt", b.fullKey("a.txt"))

	b = &Backend{prefix: ""}
	assert.Equal(t, "a.txt", b.fullKey("a.txt"))
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "application/json", detectContentType("manifest.json"))
	assert.Equal(t, "application/octet-stream", detectContentType("data.bin"))
}
