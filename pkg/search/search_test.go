package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/locdata/locharvest/pkg/fetch"
)

// pagedServer serves `pages` pages of `perPage` results each. Every third
// result is a collection landing page rather than an item.
type pagedServer struct {
	pages    int
	perPage  int
	of       int
	omitPage bool // leave pagination.total out
	failAt   int  // page answering 403, 0 for none
	calls    int32
}

func (p *pagedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&p.calls, 1)
	sp, _ := strconv.Atoi(r.URL.Query().Get("sp"))
	if sp == p.failAt {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var results []string
	if sp <= p.pages {
		for i := 0; i < p.perPage; i++ {
			n := (sp-1)*p.perPage + i
			kind := "item"
			if n%3 == 2 {
				kind = "collections"
			}
			results = append(results, fmt.Sprintf(
				`{"id": "https://www.loc.gov/%s/%d/", "url": "https://www.loc.gov/%s/%d/", "title": "r%d", "subject": ["a", "b"]}`,
				kind, n, kind, n, n))
		}
	}

	pagination := fmt.Sprintf(`"of": %d, "total": %d`, p.of, p.pages)
	if p.omitPage {
		pagination = fmt.Sprintf(`"of": %d`, p.of)
	}
	fmt.Fprintf(w, `{"status": 200, "pagination": {%s}, "options.is_partial": false, "results": [%s]}`,
		pagination, strings.Join(results, ","))
}

func newTraversal(t *testing.T) *Traversal {
	t.Helper()
	cfg := fetch.DefaultConfig()
	cfg.RequestInterval = 0
	e, err := fetch.New(cfg, fetch.WithSleep(func(context.Context, time.Duration) error { return nil }))
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}
	return New(e, nil)
}

func TestRun_AllPages(t *testing.T) {
	ps := &pagedServer{pages: 3, perPage: 3, of: 9}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	opts := DefaultOptions()
	opts.OnlyItems = false
	res := newTraversal(t).Run(context.Background(), nil, srv.URL+"/search/", opts)

	if len(res.Records) != 9 {
		t.Fatalf("expected 9 records, got %d", len(res.Records))
	}
	if res.Expected != 9 || res.Pages != 3 || ps.calls != 3 {
		t.Fatalf("unexpected counters: expected=%d pages=%d calls=%d", res.Expected, res.Pages, ps.calls)
	}
	for i, rec := range res.Records {
		if rec.Text("title") != fmt.Sprintf("r%d", i) {
			t.Fatalf("expected relevance order preserved, record %d is %s", i, rec.Text("title"))
		}
	}
	if len(res.Diagnostics) != 0 {
		t.Fatalf("expected no diagnostics, got %v", res.Diagnostics)
	}
}

func TestRun_OnlyItemsAndCap(t *testing.T) {
	ps := &pagedServer{pages: 10, perPage: 3, of: 30}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	opts := DefaultOptions()
	opts.Cap = 4
	opts.Buffer = 2
	res := newTraversal(t).Run(context.Background(), nil, srv.URL, opts)

	// 6 results (cap + buffer) are needed, that is two pages.
	if ps.calls != 2 {
		t.Fatalf("expected traversal to stop after 2 pages, got %d", ps.calls)
	}
	if len(res.Records) != 4 {
		t.Fatalf("expected 4 records after filtering and truncation, got %d", len(res.Records))
	}
	for _, rec := range res.Records {
		if strings.Contains(rec.Text("url"), "/collections/") {
			t.Fatalf("expected non-items filtered out, got %s", rec.Text("url"))
		}
	}
}

func TestRun_NoResults(t *testing.T) {
	ps := &pagedServer{pages: 0, of: 0}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	res := newTraversal(t).Run(context.Background(), nil, srv.URL, DefaultOptions())
	if len(res.Records) != 0 {
		t.Fatalf("expected empty result, got %d", len(res.Records))
	}
	if len(res.Diagnostics) != 1 || !strings.Contains(res.Diagnostics[0], "no results") {
		t.Fatalf("expected a 'no results' diagnostic, got %v", res.Diagnostics)
	}
	if ps.calls != 1 {
		t.Fatalf("expected a single request, got %d", ps.calls)
	}
}

func TestRun_StopsOnFailedPage(t *testing.T) {
	ps := &pagedServer{pages: 5, perPage: 2, of: 10, failAt: 3}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	opts := DefaultOptions()
	opts.OnlyItems = false
	res := newTraversal(t).Run(context.Background(), nil, srv.URL, opts)

	if len(res.Records) != 4 {
		t.Fatalf("expected results of the first two pages, got %d", len(res.Records))
	}
	if len(res.Diagnostics) != 2 {
		t.Fatalf("expected failure and shortfall diagnostics, got %v", res.Diagnostics)
	}
	if !strings.Contains(res.Diagnostics[1], "10 results expected, but was only able to collect 4") {
		t.Fatalf("unexpected shortfall diagnostic %q", res.Diagnostics[1])
	}
}

func TestRun_UnknownPageCountStopsOnEmptyPage(t *testing.T) {
	ps := &pagedServer{pages: 2, perPage: 2, of: 4, omitPage: true}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	opts := DefaultOptions()
	opts.OnlyItems = false
	res := newTraversal(t).Run(context.Background(), nil, srv.URL, opts)

	if len(res.Records) != 4 || ps.calls != 3 {
		t.Fatalf("expected 4 records over 3 requests, got %d over %d", len(res.Records), ps.calls)
	}
}

func TestRun_CeilingNeedsConfirmation(t *testing.T) {
	ps := &pagedServer{pages: 1, perPage: 1, of: 150000}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	res := newTraversal(t).Run(context.Background(), nil, srv.URL, DefaultOptions())
	if len(res.Records) != 0 {
		t.Fatalf("expected declined search to return nothing, got %d", len(res.Records))
	}

	asked := 0
	opts := DefaultOptions()
	opts.Confirm = func(expected int) bool {
		asked = expected
		return true
	}
	res = newTraversal(t).Run(context.Background(), nil, srv.URL, opts)
	if asked != 150000 || len(res.Records) != 1 {
		t.Fatalf("expected confirmation for 150000 and 1 record, got %d and %d", asked, len(res.Records))
	}
}

func TestRun_BlockedKeepsCollectedResults(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) > 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"pagination": {"of": 4, "total": 2}, "results": [{"id": "https://www.loc.gov/item/1/", "url": "https://www.loc.gov/item/1/"}]}`))
	}))
	defer srv.Close()

	breaker := fetch.NewBreaker()
	res := newTraversal(t).Run(context.Background(), breaker, srv.URL, DefaultOptions())
	if !res.Blocked || !breaker.Open() {
		t.Fatalf("expected blocked traversal")
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected already collected record kept, got %d", len(res.Records))
	}
}

func TestIdentifiers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pagination": {"of": 3, "total": 1}, "results": [
			{"id": "https://www.loc.gov/item/1/", "url": "https://www.loc.gov/item/1/"},
			{"id": "https://www.loc.gov/resource/r1/", "url": "https://www.loc.gov/resource/r1/"},
			{"id": "https://www.loc.gov/resource/r2/?sp=4", "url": "https://www.loc.gov/resource/r2/?sp=4"}
		]}`))
	}))
	defer srv.Close()

	res := newTraversal(t).Run(context.Background(), nil, srv.URL, DefaultOptions())
	ids := res.Identifiers()
	if len(ids.Items) != 1 || len(ids.Resources) != 2 || len(ids.Segments) != 1 {
		t.Fatalf("unexpected split %+v", ids)
	}
	if ids.Segments[0] != "https://www.loc.gov/resource/r2/?sp=4" {
		t.Fatalf("unexpected segment id %q", ids.Segments[0])
	}
}
