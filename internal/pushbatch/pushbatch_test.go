package pushbatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffbox/ffbox/internal/backend"
)

// fakeBackend is an in-memory backend.Backend recording every Put,
// optionally failing a single key.
type fakeBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	failKey string
}

func (f *fakeBackend) snapshot() map[string][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[string][]byte, len(f.data))
	for k, v := range f.data {
		cp[k] = v
	}
	return cp
}

func (f *fakeBackend) Head(ctx context.Context, key string) (*backend.ObjectInfo, error) {
	return nil, assert.AnError
}
func (f *fakeBackend) List(ctx context.Context, prefix, delimiter string) (*backend.ListResult, error) {
	return &backend.ListResult{}, nil
}
func (f *fakeBackend) Get(ctx context.Context, key string) ([]byte, error) { return nil, assert.AnError }
func (f *fakeBackend) GetRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	return nil, assert.AnError
}
func (f *fakeBackend) Put(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == f.failKey {
		return assert.AnError
	}
	f.data[key] = append([]byte(nil), data...)
	return nil
}
func (f *fakeBackend) Download(ctx context.Context, key, localPath string) error { return assert.AnError }

func TestPutFlushesOnItemThreshold(t *testing.T) {
	be := &fakeBackend{data: make(map[string][]byte)}
	b := New(be, Config{MaxBatchItems: 2, MaxBatchBytes: 1 << 20, FlushInterval: time.Hour})
	defer b.Close(context.Background())

	require.NoError(t, b.Put(context.Background(), "a", []byte("1")))
	assert.Empty(t, be.snapshot())
	require.NoError(t, b.Put(context.Background(), "b", []byte("2")))

	assert.Eventually(t, func() bool { return len(be.snapshot()) == 2 }, time.Second, time.Millisecond)
}

func TestFlushPutsEverythingPending(t *testing.T) {
	be := &fakeBackend{data: make(map[string][]byte)}
	b := New(be, Config{MaxBatchItems: 100, MaxBatchBytes: 1 << 20, FlushInterval: time.Hour})
	defer b.Close(context.Background())

	require.NoError(t, b.Put(context.Background(), "a", []byte("1")))
	require.NoError(t, b.Put(context.Background(), "b", []byte("2")))
	require.NoError(t, b.Flush(context.Background()))

	snap := be.snapshot()
	assert.Equal(t, []byte("1"), snap["a"])
	assert.Equal(t, []byte("2"), snap["b"])
}

func TestFlushReturnsErrorButPutsRemainingItems(t *testing.T) {
	be := &fakeBackend{data: make(map[string][]byte), failKey: "a"}
	b := New(be, Config{MaxBatchItems: 100, MaxBatchBytes: 1 << 20, FlushInterval: time.Hour})
	defer b.Close(context.Background())

	require.NoError(t, b.Put(context.Background(), "a", []byte("1")))
	require.NoError(t, b.Put(context.Background(), "b", []byte("2")))
	err := b.Flush(context.Background())
	require.Error(t, err)

	snap := be.snapshot()
	assert.Equal(t, []byte("2"), snap["b"])
	_, ok := snap["a"]
	assert.False(t, ok)
}

func TestCloseFlushesRemainingItems(t *testing.T) {
	be := &fakeBackend{data: make(map[string][]byte)}
	b := New(be, Config{MaxBatchItems: 100, MaxBatchBytes: 1 << 20, FlushInterval: time.Hour})

	require.NoError(t, b.Put(context.Background(), "a", []byte("1")))
	require.NoError(t, b.Close(context.Background()))

	assert.Equal(t, []byte("1"), be.snapshot()["a"])
}
