package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewhitmore/lmsx/internal/domain"
	"github.com/ewhitmore/lmsx/internal/log"
)

func category(id int64, name string) domain.Entity {
	return domain.Category{ID: id, Name: name}
}

func TestGetOrFetchListCachesOrder(t *testing.T) {
	store := New(log.Null())
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(context.Context) ([]domain.Entity, error) {
		calls.Add(1)
		return []domain.Entity{category(2, "B"), category(1, "A")}, nil
	}

	first, err := store.GetOrFetchList(ctx, "categories", fetch)
	require.NoError(t, err)
	second, err := store.GetOrFetchList(ctx, "categories", fetch)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, second, 2)
	// cached replay preserves the fetched order
	assert.Equal(t, first[0].EntityID(), second[0].EntityID())
	assert.Equal(t, int64(2), second[0].EntityID())
}

func TestGetOrFetchListCoalescesConcurrentCallers(t *testing.T) {
	store := New(log.Null())
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) ([]domain.Entity, error) {
		calls.Add(1)
		<-release
		return []domain.Entity{category(1, "A")}, nil
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([][]domain.Entity, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.GetOrFetchList(ctx, "categories", fetch)
		}(i)
	}

	// let every goroutine reach the flight before the fetch completes
	for calls.Load() == 0 {
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent callers must share one fetch")
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
	}
}

func TestGetOrFetchListErrorNotCached(t *testing.T) {
	store := New(log.Null())
	ctx := context.Background()

	var calls atomic.Int32
	boom := errors.New("boom")
	fetch := func(context.Context) ([]domain.Entity, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return []domain.Entity{category(1, "A")}, nil
	}

	_, err := store.GetOrFetchList(ctx, "categories", fetch)
	assert.ErrorIs(t, err, boom)

	records, err := store.GetOrFetchList(ctx, "categories", fetch)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPutManyUpsert(t *testing.T) {
	store := New(log.Null())

	store.PutMany([]domain.Entity{category(1, "Old Name")})
	store.PutMany([]domain.Entity{category(1, "New Name")})

	e, ok := store.Get(domain.KindCategory, 1)
	require.True(t, ok)
	assert.Equal(t, "New Name", e.(domain.Category).Name)
	assert.Equal(t, 1, store.Len())
}

func TestKindsDoNotCollide(t *testing.T) {
	store := New(log.Null())

	store.PutMany([]domain.Entity{
		domain.Category{ID: 5, Name: "Cat"},
		domain.Course{ID: 5, ShortName: "CRS"},
	})

	assert.Equal(t, 2, store.Len())
	e, ok := store.Get(domain.KindCourse, 5)
	require.True(t, ok)
	assert.Equal(t, "CRS", e.(domain.Course).ShortName)
}

func TestInvalidateDropsContainingLists(t *testing.T) {
	store := New(log.Null())
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(context.Context) ([]domain.Entity, error) {
		calls.Add(1)
		return []domain.Entity{category(1, "A"), category(2, "B")}, nil
	}

	_, err := store.GetOrFetchList(ctx, "categories", fetch)
	require.NoError(t, err)

	store.Invalidate(domain.KindCategory, 2)

	_, ok := store.Get(domain.KindCategory, 2)
	assert.False(t, ok)

	_, err = store.GetOrFetchList(ctx, "categories", fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "list containing the record must re-fetch")
}

func TestInvalidateListKeepsRecords(t *testing.T) {
	store := New(log.Null())
	ctx := context.Background()

	fetch := func(context.Context) ([]domain.Entity, error) {
		return []domain.Entity{category(1, "A")}, nil
	}
	_, err := store.GetOrFetchList(ctx, "categories", fetch)
	require.NoError(t, err)

	store.InvalidateList("categories")

	_, ok := store.Get(domain.KindCategory, 1)
	assert.True(t, ok, "records outlive their listing")
}

func TestGetOrFetchSingle(t *testing.T) {
	store := New(log.Null())
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(context.Context) (domain.Entity, error) {
		calls.Add(1)
		return category(9, "Lazy"), nil
	}

	e, err := store.GetOrFetch(ctx, domain.KindCategory, 9, fetch)
	require.NoError(t, err)
	assert.Equal(t, int64(9), e.EntityID())

	_, err = store.GetOrFetch(ctx, domain.KindCategory, 9, fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClear(t *testing.T) {
	store := New(log.Null())
	ctx := context.Background()

	_, err := store.GetOrFetchList(ctx, "categories", func(context.Context) ([]domain.Entity, error) {
		return []domain.Entity{category(1, "A")}, nil
	})
	require.NoError(t, err)

	store.Clear()

	assert.Equal(t, 0, store.Len())
	_, ok := store.Get(domain.KindCategory, 1)
	assert.False(t, ok)
}
