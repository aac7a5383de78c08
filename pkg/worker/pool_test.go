package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catowabisabi/newsfilter/pkg/domain"
)

func TestPool_Submit(t *testing.T) {
	handler := func(_ context.Context, symbol string, limit int) ([]domain.NewsItem, error) {
		return []domain.NewsItem{{Title: "news for " + symbol}}, nil
	}

	p := NewPool(2, 10, time.Second, handler)
	p.Start(context.Background())
	defer p.Stop()

	items, err := p.Submit(context.Background(), "TSLA", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "news for TSLA", items[0].Title)
}

func TestPool_HandlerError(t *testing.T) {
	handler := func(context.Context, string, int) ([]domain.NewsItem, error) {
		return nil, fmt.Errorf("origin down")
	}

	p := NewPool(1, 10, time.Second, handler)
	p.Start(context.Background())
	defer p.Stop()

	_, err := p.Submit(context.Background(), "TSLA", 10)
	require.EqualError(t, err, "origin down")
}

func TestPool_ConcurrencyBounded(t *testing.T) {
	const workers = 10
	var current, peak int64
	var mu sync.Mutex

	handler := func(context.Context, string, int) ([]domain.NewsItem, error) {
		n := atomic.AddInt64(&current, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return nil, nil
	}

	p := NewPool(workers, 100, 5*time.Second, handler)
	p.Start(context.Background())
	defer p.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Submit(context.Background(), fmt.Sprintf("SYM%d", i), 10)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(workers), "no more than %d tasks run at once", workers)
	assert.Positive(t, peak)
}

func TestPool_SubmitTimeout(t *testing.T) {
	release := make(chan struct{})
	handler := func(context.Context, string, int) ([]domain.NewsItem, error) {
		<-release
		return nil, nil
	}

	p := NewPool(1, 10, 50*time.Millisecond, handler)
	p.Start(context.Background())
	defer func() {
		close(release)
		p.Stop()
	}()

	_, err := p.Submit(context.Background(), "SLOW", 10)
	require.ErrorIs(t, err, ErrBusy)
}

func TestPool_AbandonedResultDoesNotBlockWorker(t *testing.T) {
	release := make(chan struct{})
	var done int32
	handler := func(_ context.Context, symbol string, _ int) ([]domain.NewsItem, error) {
		if symbol == "SLOW" {
			<-release
		}
		atomic.AddInt32(&done, 1)
		return []domain.NewsItem{{Title: symbol}}, nil
	}

	p := NewPool(1, 10, 50*time.Millisecond, handler)
	p.Start(context.Background())
	defer p.Stop()

	// this submit times out while the handler is stuck
	_, err := p.Submit(context.Background(), "SLOW", 10)
	require.ErrorIs(t, err, ErrBusy)

	// unblock the worker; it must discard the abandoned result and serve
	// the next task
	close(release)

	items, err := p.Submit(context.Background(), "NEXT", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "NEXT", items[0].Title)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&done), int32(2))
}

func TestPool_PanicRecovered(t *testing.T) {
	var calls int32
	handler := func(_ context.Context, symbol string, _ int) ([]domain.NewsItem, error) {
		atomic.AddInt32(&calls, 1)
		if symbol == "BOOM" {
			panic("kaboom")
		}
		return []domain.NewsItem{{Title: symbol}}, nil
	}

	p := NewPool(1, 10, time.Second, handler)
	p.Start(context.Background())
	defer p.Stop()

	_, err := p.Submit(context.Background(), "BOOM", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// the same worker keeps serving after the panic
	items, err := p.Submit(context.Background(), "OK", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(1, 10, time.Second, func(context.Context, string, int) ([]domain.NewsItem, error) {
		return nil, nil
	})
	p.Start(context.Background())
	p.Stop()

	_, err := p.Submit(context.Background(), "TSLA", 10)
	require.ErrorIs(t, err, ErrStopped)
}

func TestPool_QueueDepth(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(1, 10, 5*time.Second, func(context.Context, string, int) ([]domain.NewsItem, error) {
		<-release
		return nil, nil
	})
	p.Start(context.Background())
	defer func() {
		close(release)
		p.Stop()
	}()

	assert.Zero(t, p.QueueDepth())
	assert.Equal(t, 1, p.Workers())
}
