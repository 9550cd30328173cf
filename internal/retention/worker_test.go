package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/roomrelay/internal/clock"
	"github.com/ashureev/roomrelay/internal/domain"
	"github.com/ashureev/roomrelay/internal/store"
)

func seed(t *testing.T, now time.Time) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(t.TempDir() + "/relay.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	require.NoError(t, repo.SaveRelayMappings(context.Background(),
		&domain.RelayMapping{RelayMessageID: 1, OriginChatID: 10, OriginUserID: 10, CreatedAt: now.Add(-40 * 24 * time.Hour)},
		&domain.RelayMapping{RelayMessageID: 2, OriginChatID: 20, OriginUserID: 20, CreatedAt: now.Add(-2 * time.Hour)},
	))
	return repo
}

func TestPruneRemovesOnlyExpired(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := seed(t, now)

	deleted, err := Prune(context.Background(), repo, clock.Fake(now), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	kept, err := repo.GetRelayMapping(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, int64(20), kept.OriginChatID)
}

func TestWorkerSweepsUntilCancelled(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := seed(t, now)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartWorker(ctx, repo, clock.Fake(now), time.Hour, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		m, err := repo.GetRelayMapping(context.Background(), 2)
		return err == nil && m == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerDisabledKeepsMappings(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := seed(t, now)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartWorker(ctx, repo, clock.Fake(now), 0, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	m, err := repo.GetRelayMapping(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, m)
}
