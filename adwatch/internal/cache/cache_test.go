package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/adwatch/adwatch/internal/store"
	"github.com/hazyhaar/adwatch/dbopen"
	_ "modernc.org/sqlite"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	body  string
	err   error
	delay time.Duration
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) ([]byte, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) CacheLookup(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func setup(t *testing.T, f Fetcher) (*Cache, *store.Store, *clock) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	st := store.NewStore(db)
	clk := &clock{t: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	return New(st, f, WithClock(clk.now)), st, clk
}

const pageURL = "https://www.fillaritori.com/forum/13-kiekot/"

func TestFetch_MissStoresEntry(t *testing.T) {
	f := &fakeFetcher{body: "v1"}
	c, st, _ := setup(t, f)
	ctx := context.Background()

	got, err := c.Fetch(ctx, pageURL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("payload: got %q", got)
	}
	e, _ := st.GetCacheEntry(ctx, pageURL)
	if e == nil || string(e.Payload) != "v1" {
		t.Fatalf("entry not stored: %+v", e)
	}
}

func TestFetch_FreshnessWindow(t *testing.T) {
	// WHAT: A read at t0+4min is served from the store; t0+6min refetches.
	// WHY: Freshness is 5 minutes; stale rows are replaced in place.
	f := &fakeFetcher{body: "v1"}
	c, st, clk := setup(t, f)
	ctx := context.Background()

	if _, err := c.Fetch(ctx, pageURL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	first, _ := st.GetCacheEntry(ctx, pageURL)

	clk.advance(4 * time.Minute)
	f.body = "v2"
	got, err := c.Fetch(ctx, pageURL)
	if err != nil {
		t.Fatalf("fetch at +4m: %v", err)
	}
	if string(got) != "v1" || f.count() != 1 {
		t.Errorf("+4m: payload %q, live fetches %d; want cached v1, 1", got, f.count())
	}

	clk.advance(2 * time.Minute)
	got, err = c.Fetch(ctx, pageURL)
	if err != nil {
		t.Fatalf("fetch at +6m: %v", err)
	}
	if string(got) != "v2" || f.count() != 2 {
		t.Errorf("+6m: payload %q, live fetches %d; want v2, 2", got, f.count())
	}

	second, _ := st.GetCacheEntry(ctx, pageURL)
	if second.ID != first.ID {
		t.Errorf("entry identity changed: %d -> %d", first.ID, second.ID)
	}
	if second.FetchedAt != clk.t.UnixMilli() {
		t.Errorf("fetched_at not updated: %d", second.FetchedAt)
	}
}

func TestFetch_ExactlyFreshnessIsFresh(t *testing.T) {
	f := &fakeFetcher{body: "v1"}
	c, _, clk := setup(t, f)
	ctx := context.Background()

	c.Fetch(ctx, pageURL)
	clk.advance(DefaultFreshness)
	c.Fetch(ctx, pageURL)
	if f.count() != 1 {
		t.Errorf("live fetches: got %d, want 1", f.count())
	}
}

func TestFetch_MissFailureNotCached(t *testing.T) {
	f := &fakeFetcher{err: errors.New("connection refused")}
	c, st, _ := setup(t, f)
	ctx := context.Background()

	if _, err := c.Fetch(ctx, pageURL); err == nil {
		t.Fatal("expected fetch error")
	}
	if e, _ := st.GetCacheEntry(ctx, pageURL); e != nil {
		t.Errorf("failure was cached: %+v", e)
	}
}

func TestFetch_StaleFailureKeepsEntry(t *testing.T) {
	// WHAT: Refresh failure surfaces the error and leaves the stale row.
	// WHY: A flaky network must not destroy the last good response.
	f := &fakeFetcher{body: "v1"}
	c, st, clk := setup(t, f)
	ctx := context.Background()

	c.Fetch(ctx, pageURL)
	before, _ := st.GetCacheEntry(ctx, pageURL)

	clk.advance(10 * time.Minute)
	f.err = errors.New("timeout")
	if _, err := c.Fetch(ctx, pageURL); err == nil {
		t.Fatal("expected error on stale refresh failure")
	}
	after, _ := st.GetCacheEntry(ctx, pageURL)
	if string(after.Payload) != "v1" || after.FetchedAt != before.FetchedAt {
		t.Errorf("stale entry modified: %+v", after)
	}
}

func TestEvictOlderThan(t *testing.T) {
	// WHAT: now-25h is evicted by a 24h threshold, now-23h is kept.
	f := &fakeFetcher{}
	c, st, clk := setup(t, f)
	ctx := context.Background()

	old := "https://x.example/old/"
	recent := "https://x.example/recent/"
	st.PutCacheEntry(ctx, old, []byte("o"), clk.t.Add(-25*time.Hour).UnixMilli())
	st.PutCacheEntry(ctx, recent, []byte("r"), clk.t.Add(-23*time.Hour).UnixMilli())

	n, err := c.EvictOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if n != 1 {
		t.Errorf("evicted: got %d, want 1", n)
	}
	if e, _ := st.GetCacheEntry(ctx, old); e != nil {
		t.Error("25h entry should be evicted")
	}
	if e, _ := st.GetCacheEntry(ctx, recent); e == nil {
		t.Error("23h entry should be retained")
	}
}

func TestFetch_ConcurrentSameURL(t *testing.T) {
	// WHAT: Concurrent fetches of one URL collapse into one live request.
	// WHY: Two scans must not race to insert the same cache row.
	f := &fakeFetcher{body: "v1", delay: 50 * time.Millisecond}
	c, st, _ := setup(t, f)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Fetch(ctx, pageURL); err != nil {
				t.Errorf("fetch: %v", err)
			}
		}()
	}
	wg.Wait()

	if n, _ := st.CountCacheEntries(ctx); n != 1 {
		t.Errorf("rows: got %d, want 1", n)
	}
	if f.count() > 2 {
		t.Errorf("live fetches: got %d, want at most 2", f.count())
	}
}

func TestObserver(t *testing.T) {
	f := &fakeFetcher{body: "v1"}
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	clk := &clock{t: time.Now()}
	rec := &recorder{}
	c := New(store.NewStore(db), f, WithClock(clk.now), WithObserver(rec), WithFreshness(time.Minute))
	ctx := context.Background()

	c.Fetch(ctx, pageURL)
	c.Fetch(ctx, pageURL)
	clk.advance(2 * time.Minute)
	c.Fetch(ctx, pageURL)

	want := []string{"absent", "fresh", "stale"}
	if len(rec.states) != len(want) {
		t.Fatalf("states: got %v, want %v", rec.states, want)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Errorf("state[%d]: got %q, want %q", i, rec.states[i], want[i])
		}
	}
}

// gatedFetcher blocks until released or until its own ctx ends.
type gatedFetcher struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return []byte("v1"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestFetch_CancelledCallerDoesNotFailOthers(t *testing.T) {
	// WHAT: When the caller that started a shared lookup goes away, callers
	// waiting on the same URL still get the page.
	// WHY: A manual scan whose HTTP client disconnects must not fail the
	// periodic scan reading the same forum page.
	g := &gatedFetcher{started: make(chan struct{}), release: make(chan struct{})}
	c, _, _ := setup(t, g)

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Fetch(first, pageURL)
		firstErr <- err
	}()
	<-g.started

	type result struct {
		body []byte
		err  error
	}
	second := make(chan result, 1)
	go func() {
		b, err := c.Fetch(context.Background(), pageURL)
		second <- result{b, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller: got %v, want context.Canceled", err)
	}

	close(g.release)
	r := <-second
	if r.err != nil {
		t.Fatalf("waiting caller: %v", r.err)
	}
	if string(r.body) != "v1" {
		t.Errorf("body: got %q", r.body)
	}
}

func TestFetch_SharedLookupTimeout(t *testing.T) {
	// WHAT: A live fetch that never answers is cut off by the fetch timeout
	// even when the caller has no deadline.
	g := &gatedFetcher{started: make(chan struct{}), release: make(chan struct{})}
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	c := New(store.NewStore(db), g, WithFetchTimeout(30*time.Millisecond))

	_, err := c.Fetch(context.Background(), pageURL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}
