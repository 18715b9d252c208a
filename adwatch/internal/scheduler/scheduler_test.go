package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/adwatch/adwatch/internal/notify"
	"github.com/hazyhaar/adwatch/adwatch/internal/scan"
	"github.com/hazyhaar/adwatch/adwatch/internal/store"
	"github.com/hazyhaar/adwatch/dbopen"
	"github.com/hazyhaar/adwatch/idgen"
	_ "modernc.org/sqlite"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	return store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
}

func addSearch(t *testing.T, st *store.Store, owner, url string, wm store.Watermark) *store.Search {
	t.Helper()
	s := &store.Search{OwnerID: owner, SourceURL: url, Keyword: "wheels", Watermark: wm}
	if err := st.InsertSearch(context.Background(), s); err != nil {
		t.Fatalf("insert search: %v", err)
	}
	return s
}

// fakeScanner returns a canned result or error per source URL.
type fakeScanner struct {
	results map[string]*scan.Result
	errs    map[string]error

	mu      sync.Mutex
	active  int
	maxSeen int
	delay   time.Duration
}

func (f *fakeScanner) Run(ctx context.Context, s *store.Search) (*scan.Result, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if err := f.errs[s.SourceURL]; err != nil {
		return nil, err
	}
	if r, ok := f.results[s.SourceURL]; ok {
		out := *r
		for i := range out.Notifications {
			out.Notifications[i].SearchID = s.ID
			out.Notifications[i].OwnerID = s.OwnerID
		}
		return &out, nil
	}
	return &scan.Result{Watermark: s.Watermark}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

type fakeEvictor struct {
	calls     atomic.Int32
	threshold time.Duration
}

func (f *fakeEvictor) EvictOlderThan(_ context.Context, d time.Duration) (int64, error) {
	f.calls.Add(1)
	f.threshold = d
	return 3, nil
}

type countingRecorder struct {
	mu            sync.Mutex
	scans         map[string]int
	notifications map[string]int
}

func newRecorder() *countingRecorder {
	return &countingRecorder{scans: map[string]int{}, notifications: map[string]int{}}
}

func (r *countingRecorder) Scan(outcome string, _ float64, _ int) {
	r.mu.Lock()
	r.scans[outcome]++
	r.mu.Unlock()
}

func (r *countingRecorder) Notification(outcome string) {
	r.mu.Lock()
	r.notifications[outcome]++
	r.mu.Unlock()
}

const (
	urlA = "https://forum.test/forum/1-a/"
	urlB = "https://forum.test/forum/2-b/"
)

func TestTick(t *testing.T) {
	// WHAT: A tick delivers, advances the watermark and records a run for
	// each search; a failing search keeps its watermark.
	// WHY: One broken forum page must not stall the other searches.
	st := newStore(t)
	ctx := context.Background()
	a := addSearch(t, st, "100", urlA, store.WatermarkAt("5"))
	b := addSearch(t, st, "200", urlB, store.WatermarkAt("7"))

	sc := &fakeScanner{
		results: map[string]*scan.Result{
			urlA: {
				Watermark: store.WatermarkAt("9"),
				Checked:   4,
				Notifications: []scan.Notification{
					{URL: "https://forum.test/topic/9-x/", PhotoURL: "img.test/9.jpg"},
					{URL: "https://forum.test/topic/8-y/"},
				},
			},
		},
		errs: map[string]error{urlB: errors.New("fetch index: status 503")},
	}
	n := &fakeNotifier{}
	ev := &fakeEvictor{}
	rec := newRecorder()
	s := New(st, sc, ev, n, Config{Retention: 2 * time.Hour}, quietLogger(),
		WithRecorder(rec), WithIDGenerator(idgen.Sequence("run-")))

	report := s.Tick(ctx)
	want := TickReport{Searches: 2, Failed: 1, Notified: 2, Evicted: 3}
	if report != want {
		t.Errorf("report: got %+v, want %+v", report, want)
	}

	if len(n.sent) != 2 {
		t.Fatalf("sent: got %d, want 2", len(n.sent))
	}
	if n.sent[0].Recipient != "100" || n.sent[0].PhotoURL != "img.test/9.jpg" {
		t.Errorf("first message: %+v", n.sent[0])
	}
	if n.sent[0].Text != "https://forum.test/topic/9-x/ search ID 1" {
		t.Errorf("caption: %q", n.sent[0].Text)
	}

	gotA, _ := st.GetSearch(ctx, a.ID)
	if !gotA.Watermark.Is("9") {
		t.Errorf("search A watermark: got %s, want 9", gotA.Watermark)
	}
	gotB, _ := st.GetSearch(ctx, b.ID)
	if !gotB.Watermark.Is("7") {
		t.Errorf("search B watermark: got %s, want 7 (unchanged)", gotB.Watermark)
	}

	runsA, _ := st.ListScanRuns(ctx, a.ID, 0)
	if len(runsA) != 1 || runsA[0].Status != store.RunOK || runsA[0].Notified != 2 || runsA[0].Checked != 4 {
		t.Errorf("runs A: %+v", runsA)
	}
	runsB, _ := st.ListScanRuns(ctx, b.ID, 0)
	if len(runsB) != 1 || runsB[0].Status != store.RunError || runsB[0].ErrorMessage == "" {
		t.Errorf("runs B: %+v", runsB)
	}

	if ev.calls.Load() != 1 || ev.threshold != 2*time.Hour {
		t.Errorf("evictor: calls %d threshold %v", ev.calls.Load(), ev.threshold)
	}
	if rec.scans["ok"] != 1 || rec.scans["error"] != 1 || rec.notifications["sent"] != 2 {
		t.Errorf("recorder: %+v %+v", rec.scans, rec.notifications)
	}
}

func TestTick_DeliveryFailureAdvancesWatermark(t *testing.T) {
	// WHAT: A blocked recipient does not hold the watermark back.
	// WHY: Otherwise the same listings would be re-sent every tick.
	st := newStore(t)
	ctx := context.Background()
	a := addSearch(t, st, "100", urlA, store.Watermark{})

	sc := &fakeScanner{results: map[string]*scan.Result{
		urlA: {Watermark: store.WatermarkAt("3"), Notifications: []scan.Notification{{URL: "u"}}},
	}}
	n := &fakeNotifier{err: &notify.SendError{Platform: "telegram", Recipient: "100", Cause: notify.ErrRecipientUnreachable}}
	rec := newRecorder()
	s := New(st, sc, nil, n, Config{}, quietLogger(), WithRecorder(rec))

	report := s.Tick(ctx)
	if report.Notified != 1 || report.Failed != 0 {
		t.Errorf("report: %+v", report)
	}
	got, _ := st.GetSearch(ctx, a.ID)
	if !got.Watermark.Is("3") {
		t.Errorf("watermark: got %s, want 3", got.Watermark)
	}
	runs, _ := st.ListScanRuns(ctx, a.ID, 0)
	if len(runs) != 1 || runs[0].Notified != 0 {
		t.Errorf("runs: %+v", runs)
	}
	if rec.notifications["unreachable"] != 1 {
		t.Errorf("recorder: %+v", rec.notifications)
	}
}

func TestTick_Concurrency(t *testing.T) {
	st := newStore(t)
	for i := 0; i < 6; i++ {
		addSearch(t, st, "100", urlA, store.Watermark{})
	}
	sc := &fakeScanner{delay: 20 * time.Millisecond}
	s := New(st, sc, nil, &fakeNotifier{}, Config{Concurrency: 2}, quietLogger())

	report := s.Tick(context.Background())
	if report.Searches != 6 || report.Failed != 0 {
		t.Errorf("report: %+v", report)
	}
	if sc.maxSeen > 2 {
		t.Errorf("max concurrent scans: got %d, want <= 2", sc.maxSeen)
	}
}

func TestTick_NoSearches(t *testing.T) {
	s := New(newStore(t), &fakeScanner{}, &fakeEvictor{}, &fakeNotifier{}, Config{}, quietLogger())
	report := s.Tick(context.Background())
	if report.Searches != 0 || report.Evicted != 3 {
		t.Errorf("report: %+v", report)
	}
}

func TestRun_ImmediateTickAndStop(t *testing.T) {
	// WHAT: Run ticks once on start and returns when ctx is cancelled.
	st := newStore(t)
	addSearch(t, st, "100", urlA, store.Watermark{})
	ev := &fakeEvictor{}
	s := New(st, &fakeScanner{}, ev, &fakeNotifier{}, Config{Interval: time.Hour}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for ev.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no tick on start")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.Interval != time.Minute || c.Concurrency != 1 || c.Retention != 24*time.Hour {
		t.Errorf("defaults: %+v", c)
	}
}

// advancingScanner reports one new listing until the search's watermark
// reaches its target, like the real engine does.
type advancingScanner struct {
	target string
	delay  time.Duration

	mu      sync.Mutex
	active  int
	maxSeen int
	runs    int
}

func (a *advancingScanner) Run(_ context.Context, s *store.Search) (*scan.Result, error) {
	a.mu.Lock()
	a.active++
	a.runs++
	if a.active > a.maxSeen {
		a.maxSeen = a.active
	}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.active--
		a.mu.Unlock()
	}()
	time.Sleep(a.delay)

	res := &scan.Result{Watermark: store.WatermarkAt(a.target)}
	if !s.Watermark.Is(a.target) {
		res.Notifications = []scan.Notification{{SearchID: s.ID, OwnerID: s.OwnerID, URL: "https://forum.test/topic/" + a.target + "-x/"}}
	}
	return res, nil
}

func TestTick_OverlappingTicksSerialize(t *testing.T) {
	// WHAT: Two ticks started together (periodic + manual scan) never scan
	// the same search at once, and the second sees the first's watermark.
	// WHY: Overlapping scans would deliver the same listing twice and race
	// on the watermark write.
	st := newStore(t)
	ctx := context.Background()
	addSearch(t, st, "100", urlA, store.WatermarkAt("5"))

	sc := &advancingScanner{target: "9", delay: 50 * time.Millisecond}
	n := &fakeNotifier{}
	s := New(st, sc, nil, n, Config{}, quietLogger())

	var wg sync.WaitGroup
	reports := make([]TickReport, 2)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i] = s.Tick(ctx)
		}()
	}
	wg.Wait()

	if sc.maxSeen != 1 {
		t.Errorf("concurrent scans of one search: got %d, want 1", sc.maxSeen)
	}
	if sc.runs != 2 {
		t.Errorf("scans: got %d, want 2", sc.runs)
	}
	if len(n.sent) != 1 {
		t.Errorf("notifications for one new listing: got %d, want 1", len(n.sent))
	}
	if reports[0].Notified+reports[1].Notified != 1 {
		t.Errorf("reports: %+v", reports)
	}
}

func TestTick_WaitAbandonedOnCancel(t *testing.T) {
	// WHAT: A tick waiting behind a running one gives up when its context
	// ends, without scanning.
	st := newStore(t)
	addSearch(t, st, "100", urlA, store.WatermarkAt("5"))

	sc := &advancingScanner{target: "9", delay: 200 * time.Millisecond}
	s := New(st, sc, nil, &fakeNotifier{}, Config{}, quietLogger())

	done := make(chan struct{})
	go func() {
		s.Tick(context.Background())
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	report := s.Tick(ctx)
	if report.Searches != 0 {
		t.Errorf("abandoned tick scanned: %+v", report)
	}
	<-done
	if sc.runs != 1 {
		t.Errorf("scans: got %d, want 1", sc.runs)
	}
}
