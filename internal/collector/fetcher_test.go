package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LJTian/NewsLens/internal/logger"
)

type stubRenderer struct {
	html  string
	err   error
	calls int
}

func (s *stubRenderer) Render(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.html, s.err
}

func newSourceServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rss.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	})
	mux.HandleFunc("/section/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(sampleHTML))
	})
	mux.HandleFunc("/blocked", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/bad.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not a feed</html"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchFeedAndMarkup(t *testing.T) {
	srv := newSourceServer(t)
	f := NewFetcher(2*time.Second, nil, logger.Discard())

	res := f.Fetch(context.Background(), Source{Category: "tech", URL: srv.URL + "/rss.xml"}, CrawlProfile(10))
	if res.Err != nil {
		t.Fatalf("feed fetch error: %v", res.Err)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("feed: expected 2 candidates, got %d", len(res.Candidates))
	}

	res = f.Fetch(context.Background(), Source{Category: "tech", URL: srv.URL + "/section/"}, CrawlProfile(10))
	if res.Err != nil {
		t.Fatalf("markup fetch error: %v", res.Err)
	}
	if len(res.Candidates) != 3 {
		t.Fatalf("markup: expected 3 candidates, got %d", len(res.Candidates))
	}
	if res.Candidates[0].ArticleURL != srv.URL+"/news/first-story" {
		t.Fatalf("relative link not resolved against page: %q", res.Candidates[0].ArticleURL)
	}
}

func TestFetchForbiddenUsesAlternateFeed(t *testing.T) {
	srv := newSourceServer(t)
	renderer := &stubRenderer{html: sampleHTML}
	alts := AlternateFeeds{srv.URL: srv.URL + "/rss.xml"}
	f := NewFetcher(2*time.Second, alts, logger.Discard(), WithRenderer(renderer))

	res := f.Fetch(context.Background(), Source{URL: srv.URL + "/blocked"}, CrawlProfile(10))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("expected candidates from alternate feed, got %d", len(res.Candidates))
	}
	if renderer.calls != 0 {
		t.Fatalf("renderer should not be used when an alternate feed exists")
	}
}

func TestFetchForbiddenFallsBackToRenderer(t *testing.T) {
	srv := newSourceServer(t)
	renderer := &stubRenderer{html: sampleHTML}
	f := NewFetcher(2*time.Second, nil, logger.Discard(), WithRenderer(renderer))

	res := f.Fetch(context.Background(), Source{URL: srv.URL + "/blocked"}, CrawlProfile(10))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if renderer.calls != 1 || len(res.Candidates) != 3 {
		t.Fatalf("renderer calls = %d, candidates = %d", renderer.calls, len(res.Candidates))
	}
}

func TestFetchFailuresYieldEmptyResults(t *testing.T) {
	srv := newSourceServer(t)
	f := NewFetcher(2*time.Second, nil, logger.Discard(), WithRenderer(&stubRenderer{err: errors.New("no browser")}))

	cases := []struct {
		path string
		kind FailureKind
	}{
		{"/gone", KindGone},
		{"/broken", KindTransport},
		{"/bad.xml", KindParse},
		{"/blocked", KindTransport},
	}
	for _, tc := range cases {
		res := f.Fetch(context.Background(), Source{URL: srv.URL + tc.path}, CrawlProfile(10))
		if res.Err == nil {
			t.Fatalf("%s: expected error", tc.path)
		}
		if res.Err.Kind != tc.kind {
			t.Fatalf("%s: kind = %s, want %s", tc.path, res.Err.Kind, tc.kind)
		}
		if len(res.Candidates) != 0 {
			t.Fatalf("%s: expected no candidates", tc.path)
		}
	}
}

func TestFetchForbiddenWithoutFallback(t *testing.T) {
	srv := newSourceServer(t)
	f := NewFetcher(2*time.Second, nil, logger.Discard())

	res := f.Fetch(context.Background(), Source{URL: srv.URL + "/blocked"}, CrawlProfile(10))
	if res.Err == nil || res.Err.Kind != KindForbidden || res.Err.Status != http.StatusForbidden {
		t.Fatalf("expected forbidden error, got %+v", res.Err)
	}
}

func TestAlternateFeedsLookup(t *testing.T) {
	alts := AlternateFeeds{"https://www.Politico.com/": "https://www.politico.com/rss/politicopicks.xml"}
	if got, ok := alts.Lookup("https://www.politico.com/news/2026/story"); !ok || got == "" {
		t.Fatalf("expected origin match, got %q %v", got, ok)
	}
	if _, ok := alts.Lookup("https://example.com/politico.com"); ok {
		t.Fatalf("path must not match an origin")
	}
}
