package app

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgkafka "github.com/utafrali/commerce-core/pkg/kafka"
	"github.com/utafrali/commerce-core/services/inventory/internal/config"
	"github.com/utafrali/commerce-core/services/inventory/internal/repository/memory"
	"github.com/utafrali/commerce-core/services/inventory/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStore_Memory(t *testing.T) {
	cfg := &config.Config{StorageDriver: config.StorageDriverMemory, LowStockThreshold: 3}

	store, pool, err := OpenStore(context.Background(), cfg, discardLogger())

	require.NoError(t, err)
	assert.Nil(t, pool)
	assert.IsType(t, &memory.Store{}, store)
}

func TestOpenIdempotencyStore(t *testing.T) {
	t.Run("no redis configured", func(t *testing.T) {
		store, client := openIdempotencyStore(context.Background(), &config.Config{}, discardLogger())

		assert.Nil(t, client)
		assert.IsType(t, &pkgkafka.MemoryIdempotencyStore{}, store)
	})

	t.Run("redis reachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &config.Config{RedisHost: mr.Host(), RedisPort: mustPort(t, mr)}

		store, client := openIdempotencyStore(context.Background(), cfg, discardLogger())

		require.NotNil(t, client)
		t.Cleanup(func() { _ = client.Close() })
		assert.IsType(t, &pkgkafka.RedisIdempotencyStore{}, store)
	})

	t.Run("redis unreachable falls back to memory", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &config.Config{RedisHost: mr.Host(), RedisPort: mustPort(t, mr)}
		mr.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		store, client := openIdempotencyStore(ctx, cfg, discardLogger())

		assert.Nil(t, client)
		assert.IsType(t, &pkgkafka.MemoryIdempotencyStore{}, store)
	})
}

func TestSweepReservations_StopsWithContext(t *testing.T) {
	store := memory.NewStore()
	reservations := service.NewReservationService(store, store, nil, discardLogger(), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweepReservations(ctx, reservations, time.Millisecond, discardLogger())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return port
}
