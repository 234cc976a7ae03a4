package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/fieldtrack/internal/models"
)

type item struct {
	Name string `json:"name"`
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func names(t *testing.T, recs []models.QueuedRecord) []string {
	t.Helper()
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		var it item
		require.NoError(t, json.Unmarshal(r.Payload, &it))
		out = append(out, it.Name)
	}
	return out
}

func TestQueueOrdering(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			q := New(store, 0, zap.NewNop())
			for _, n := range []string{"A", "B", "C"} {
				_, err := q.Enqueue(ctx, models.KindLocation, item{n})
				require.NoError(t, err)
			}

			recs, err := q.Drain(ctx, models.KindLocation)
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B", "C"}, names(t, recs))

			// Drain 不删除
			n, err := q.Count(ctx, models.KindLocation)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestQueueDrainAndRemoveAll(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			q := New(store, 0, zap.NewNop())
			for i := 0; i < 7; i++ {
				_, err := q.Enqueue(ctx, models.KindLocation, item{"x"})
				require.NoError(t, err)
			}

			recs, err := q.Drain(ctx, models.KindLocation)
			require.NoError(t, err)
			require.NoError(t, q.RemoveUploaded(ctx, models.KindLocation, recs))

			n, err := q.Count(ctx, models.KindLocation)
			require.NoError(t, err)
			assert.Zero(t, n)

			recs, err = q.Drain(ctx, models.KindLocation)
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func TestQueueRemoveSubsetKeepsOrder(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			q := New(store, 0, zap.NewNop())
			for _, n := range []string{"1", "2", "3", "4", "5"} {
				_, err := q.Enqueue(ctx, models.KindIncident, item{n})
				require.NoError(t, err)
			}
			recs, err := q.Drain(ctx, models.KindIncident)
			require.NoError(t, err)

			uploaded := []models.QueuedRecord{recs[0], recs[1], recs[3]}
			require.NoError(t, q.RemoveUploaded(ctx, models.KindIncident, uploaded))

			recs, err = q.Drain(ctx, models.KindIncident)
			require.NoError(t, err)
			assert.Equal(t, []string{"3", "5"}, names(t, recs))
		})
	}
}

func TestQueuePartitions(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			q := New(store, 0, zap.NewNop())
			_, err := q.Enqueue(ctx, models.KindLocation, item{"loc"})
			require.NoError(t, err)
			_, err = q.Enqueue(ctx, models.KindIncident, item{"inc"})
			require.NoError(t, err)

			locs, err := q.Drain(ctx, models.KindLocation)
			require.NoError(t, err)
			assert.Equal(t, []string{"loc"}, names(t, locs))

			// 跨分区删除被拒绝
			assert.Error(t, q.RemoveUploaded(ctx, models.KindIncident, locs))

			total, err := q.Total(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, total)

			_, err = q.Enqueue(ctx, models.RecordKind("bogus"), item{"?"})
			assert.Error(t, err)
		})
	}
}

func TestQueueMaxRecordsDropsOldest(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			q := New(store, 2, zap.NewNop())
			for _, n := range []string{"A", "B", "C"} {
				_, err := q.Enqueue(ctx, models.KindLocation, item{n})
				require.NoError(t, err)
			}
			recs, err := q.Drain(ctx, models.KindLocation)
			require.NoError(t, err)
			assert.Equal(t, []string{"B", "C"}, names(t, recs))
		})
	}
}

func TestQueueConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			q := New(store, 0, zap.NewNop())

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := q.Enqueue(ctx, models.KindLocation, item{"c"})
					assert.NoError(t, err)
				}()
			}

			// 并发期间的删除只影响快照中的记录
			removed := 0
			wg.Add(1)
			go func() {
				defer wg.Done()
				recs, err := q.Drain(ctx, models.KindLocation)
				assert.NoError(t, err)
				assert.NoError(t, q.RemoveUploaded(ctx, models.KindLocation, recs))
				removed = len(recs)
			}()
			wg.Wait()

			recs, err := q.Drain(ctx, models.KindLocation)
			require.NoError(t, err)
			for i := 1; i < len(recs); i++ {
				assert.Less(t, recs[i-1].ID, recs[i].ID)
			}
			assert.Equal(t, 20, len(recs)+removed, "no record may be lost or removed twice")

			count, err := q.Count(ctx, models.KindLocation)
			require.NoError(t, err)
			assert.Equal(t, len(recs), count)
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "queue.db")

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	q := New(store, 0, zap.NewNop())
	_, err = q.Enqueue(ctx, models.KindLocation, item{"persisted"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()

	recs, err := New(store, 0, zap.NewNop()).Drain(ctx, models.KindLocation)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"persisted"}, names(t, recs))
	assert.False(t, recs[0].EnqueuedAt.IsZero())
}
