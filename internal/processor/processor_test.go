package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/LJTian/NewsLens/internal/collector"
	"github.com/LJTian/NewsLens/internal/coordinator"
	"github.com/LJTian/NewsLens/internal/logger"
	"github.com/LJTian/NewsLens/internal/news"
	"github.com/LJTian/NewsLens/internal/notify"
	"github.com/LJTian/NewsLens/internal/sentiment"
	"github.com/LJTian/NewsLens/internal/storage"
)

var crawlTime = time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)

type stubFetcher struct {
	mu      sync.Mutex
	pages   map[string][]string
	fail    map[string]bool
	calls   []string
	gate    chan struct{}
	started chan struct{}
}

func (s *stubFetcher) Fetch(_ context.Context, src collector.Source, p collector.Profile) collector.Result {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.calls = append(s.calls, src.URL)
	s.mu.Unlock()

	if s.fail[src.URL] {
		return collector.Result{Source: src, Err: &collector.FetchError{Kind: collector.KindGone, URL: src.URL, Status: 404}}
	}
	var cands []collector.Candidate
	for i, text := range s.pages[src.URL] {
		if !p.Valid(text) {
			continue
		}
		cands = append(cands, collector.Candidate{
			Text:       text,
			ArticleURL: fmt.Sprintf("%s/article-%d", src.URL, i),
			SourceURL:  src.URL,
			Category:   src.Category,
		})
	}
	return collector.Result{Source: src, Candidates: cands}
}

// 只有以 -0 结尾的文章有图
type stubImages struct{}

func (stubImages) Resolve(_ context.Context, u string) string {
	if len(u) > 2 && u[len(u)-2:] == "-0" {
		return u + ".jpg"
	}
	return ""
}

type stubScorer struct{}

func (stubScorer) Score(_ context.Context, text string) sentiment.Result {
	if len(text)%2 == 0 {
		return sentiment.FromPolarity(0.5)
	}
	return sentiment.FromPolarity(-0.5)
}

type memStore struct {
	failures int
	calls    int
	batches  []news.CrawlBatch
}

func (m *memStore) StoreBatch(_ context.Context, b news.CrawlBatch) (string, error) {
	m.calls++
	if m.calls <= m.failures {
		return "", errors.New("db down")
	}
	m.batches = append(m.batches, b)
	return b.UpdateID, nil
}

type memSink struct{ items []news.HeadlineItem }

func (m *memSink) Push(_ context.Context, it news.HeadlineItem) error {
	m.items = append(m.items, it)
	return nil
}

type memPublisher struct{ events []notify.BatchEvent }

func (m *memPublisher) Published(_ context.Context, ev notify.BatchEvent) error {
	m.events = append(m.events, ev)
	return nil
}
func (m *memPublisher) Close() error { return nil }

type fixture struct {
	fetcher   *stubFetcher
	store     *memStore
	sink      *memSink
	publisher *memPublisher
	pipeline  *Pipeline
}

func newFixture(catalogue map[string][]string, pages map[string][]string) *fixture {
	f := &fixture{
		fetcher:   &stubFetcher{pages: pages, fail: map[string]bool{}},
		store:     &memStore{},
		sink:      &memSink{},
		publisher: &memPublisher{},
	}
	f.pipeline = New(Deps{
		Fetcher:    f.fetcher,
		Images:     stubImages{},
		Scorer:     stubScorer{},
		Sequential: coordinator.NewSequential(0, 0),
		Cache:      f.sink,
		Store:      f.store,
		Publisher:  f.publisher,
	}, Options{
		Catalogue:   catalogue,
		PerSource:   15,
		PerCategory: 3,
		Attempts:    2,
		Backoff:     time.Millisecond,
		Now:         func() time.Time { return crawlTime },
	}, logger.Discard())
	return f
}

func TestCrawlStoresOneBatch(t *testing.T) {
	f := newFixture(
		map[string][]string{
			"sports":   {"https://s1.example", "https://s2.example", "https://s3.example"},
			"business": {"https://b1.example"},
		},
		map[string][]string{
			"https://s1.example": {"Local team wins the championship final", "Subscribe to our newsletter today please"},
			"https://s2.example": {"local team wins the championship final ", "Star striker signs a record contract", "Coach resigns after a long losing streak"},
			"https://s3.example": {"This source should never be requested"},
			"https://b1.example": {"Markets rally as inflation cools down"},
		},
	)

	report, err := f.pipeline.Crawl(context.Background())
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if report.Total != 4 || report.PerCategory["sports"] != 3 || report.PerCategory["business"] != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.WithImages != 2 {
		t.Fatalf("with images = %d, want 2", report.WithImages)
	}
	for _, u := range f.fetcher.calls {
		if u == "https://s3.example" {
			t.Fatalf("category cap reached but s3 was still fetched")
		}
	}

	if len(f.store.batches) != 1 {
		t.Fatalf("batches stored = %d", len(f.store.batches))
	}
	batch := f.store.batches[0]
	if batch.UpdateID != report.UpdateID || len(batch.Items) != 4 {
		t.Fatalf("batch = %s/%d, report = %+v", batch.UpdateID, len(batch.Items), report)
	}
	if batch.Items[0].Category != "business" {
		t.Fatalf("categories should be processed in sorted order, first = %s", batch.Items[0].Category)
	}
	for _, it := range batch.Items {
		if it.Sentiment == "" || it.Confidence != 50 {
			t.Fatalf("item not scored: %+v", it)
		}
		if !it.Timestamp.Equal(crawlTime) {
			t.Fatalf("timestamp = %v", it.Timestamp)
		}
	}

	if len(f.sink.items) != 4 {
		t.Fatalf("cache pushes = %d", len(f.sink.items))
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].TotalHeadlines != 4 {
		t.Fatalf("events = %+v", f.publisher.events)
	}
}

func TestCrawlContinuesPastFailedSource(t *testing.T) {
	f := newFixture(
		map[string][]string{"arts": {"https://gone.example", "https://ok.example"}},
		map[string][]string{"https://ok.example": {"Museum opens a new modern art wing"}},
	)
	f.fetcher.fail["https://gone.example"] = true

	report, err := f.pipeline.Crawl(context.Background())
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if report.Total != 1 {
		t.Fatalf("total = %d, want 1", report.Total)
	}
}

func TestCrawlEmptyStoresNothing(t *testing.T) {
	f := newFixture(map[string][]string{"earth": {"https://empty.example"}}, nil)

	report, err := f.pipeline.Crawl(context.Background())
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if report.UpdateID != "" || f.store.calls != 0 || len(f.publisher.events) != 0 {
		t.Fatalf("empty crawl should not persist: %+v calls=%d", report, f.store.calls)
	}
}

func TestCrawlPersistenceFailure(t *testing.T) {
	f := newFixture(
		map[string][]string{"politics": {"https://p.example"}},
		map[string][]string{"https://p.example": {"Senate passes the annual budget bill"}},
	)
	f.store.failures = 5

	_, err := f.pipeline.Crawl(context.Background())
	if !errors.Is(err, storage.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if f.store.calls != 2 {
		t.Fatalf("store attempts = %d, want 2", f.store.calls)
	}
	if len(f.publisher.events) != 0 {
		t.Fatalf("no event expected after failure")
	}
	if f.pipeline.Running() {
		t.Fatalf("running flag not cleared")
	}
}

func TestCrawlRejectsConcurrentRun(t *testing.T) {
	f := newFixture(
		map[string][]string{"technology": {"https://t.example"}},
		map[string][]string{"https://t.example": {"Chipmaker unveils a faster processor"}},
	)
	f.fetcher.gate = make(chan struct{})
	f.fetcher.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Crawl(context.Background())
		done <- err
	}()
	<-f.fetcher.started

	if _, err := f.pipeline.Crawl(context.Background()); !errors.Is(err, ErrCrawlRunning) {
		t.Fatalf("expected ErrCrawlRunning, got %v", err)
	}
	close(f.fetcher.gate)
	if err := <-done; err != nil {
		t.Fatalf("first crawl: %v", err)
	}
}

func TestCrawlCancelled(t *testing.T) {
	f := newFixture(
		map[string][]string{"sports": {"https://a.example", "https://b.example"}},
		map[string][]string{"https://a.example": {"Short"}},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.pipeline.Crawl(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type timedImages struct {
	mu sync.Mutex
	at []time.Time
}

func (s *timedImages) Resolve(context.Context, string) string {
	s.mu.Lock()
	s.at = append(s.at, time.Now())
	s.mu.Unlock()
	return ""
}

func TestCrawlPacesImageFetches(t *testing.T) {
	const gap = 30 * time.Millisecond
	images := &timedImages{}
	p := New(Deps{
		Fetcher: &stubFetcher{pages: map[string][]string{
			"https://e1.example": {
				"Glacier retreat accelerates across the Alps",
				"New marine reserve protects coral reef habitat",
				"Drought conditions ease after autumn rainfall",
			},
		}},
		Images:     images,
		Scorer:     stubScorer{},
		Sequential: coordinator.NewSequential(gap, gap),
		Store:      &memStore{},
	}, Options{
		Catalogue:   map[string][]string{"earth": {"https://e1.example"}},
		PerSource:   15,
		PerCategory: 30,
		Attempts:    1,
		Now:         func() time.Time { return crawlTime },
	}, logger.Discard())

	if _, err := p.Crawl(context.Background()); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(images.at) != 3 {
		t.Fatalf("image fetches = %d, want 3", len(images.at))
	}
	for i := 1; i < len(images.at); i++ {
		if d := images.at[i].Sub(images.at[i-1]); d < gap {
			t.Fatalf("image fetch %d followed the previous one after %s, want >= %s", i, d, gap)
		}
	}
}
