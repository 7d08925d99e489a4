package harvest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/locdata/locharvest/pkg/decompose"
	"github.com/locdata/locharvest/pkg/fetch"
	"github.com/locdata/locharvest/pkg/locgov"
	"github.com/locdata/locharvest/pkg/search"
	"github.com/locdata/locharvest/pkg/storage"
)

const (
	searchPage = `{"status": 200, "pagination": {"of": 3, "total": 1}, "results": [
		{"id": "https://www.loc.gov/item/a/", "url": "https://www.loc.gov/item/a/", "title": "A"},
		{"id": "https://www.loc.gov/resource/b/", "url": "https://www.loc.gov/resource/b/", "title": "B"},
		{"id": "https://www.loc.gov/collections/c/", "url": "https://www.loc.gov/collections/c/", "title": "C"}
	]}`
	itemA = `{"status": 200, "item": {"id": "https://www.loc.gov/item/a/", "title": "A"}, "resources": [
		{"url": "https://www.loc.gov/resource/a/", "pdf": "https://tile.loc.gov/a.pdf",
		 "files": [[{"mimetype": "image/jpeg", "url": "https://tile.loc.gov/a.jpg"},
		            {"mimetype": "text/xml", "url": "%s/alto/a.alto.xml"}]]}
	]}`
	resourceB = `{"status": 200, "item": {"id": "https://www.loc.gov/item/b/"}}`
	itemB     = `{"status": 200, "item": {"id": "https://www.loc.gov/item/b/", "title": "B"}, "resources": [
		{"url": "https://www.loc.gov/resource/b/", "files": [[{"mimetype": "image/jpeg", "url": "https://tile.loc.gov/b.jpg"}]]}
	]}`
	altoA = `<alto><Description><softwareName>OCR</softwareName></Description><Layout><Page><PrintSpace>
		<TextBlock ID="TB1"><TextLine ID="TL1"><String ID="S1" CONTENT="Hello"/><String ID="S2" CONTENT="world"/></TextLine></TextBlock>
	</PrintSpace></Page></Layout></alto>`
)

func newFakeLOC(t *testing.T, docs map[string]string, codes map[string]int) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := codes[r.URL.Path]; code != 0 {
			w.WriteHeader(code)
			return
		}
		body, ok := docs[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(strings.ReplaceAll(body, "%s", srv.URL)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, srv *httptest.Server) Config {
	t.Helper()
	fc := fetch.DefaultConfig()
	fc.RequestInterval = 0
	e, err := fetch.New(fc, fetch.WithSleep(func(context.Context, time.Duration) error { return nil }))
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}
	site, err := locgov.SiteAt(srv.URL)
	if err != nil {
		t.Fatalf("SiteAt: %v", err)
	}
	return Config{Fetcher: e, Site: site, Search: search.DefaultOptions()}
}

func TestRun_SearchThenItems(t *testing.T) {
	srv := newFakeLOC(t, map[string]string{
		"/search/":         searchPage,
		"/item/a/":         itemA,
		"/resource/b/":     resourceB,
		"/item/b/":         itemB,
		"/alto/a.alto.xml": altoA,
	}, nil)

	cfg := testConfig(t, srv)
	cfg.Alto = true
	var phases []string
	cfg.OnPhaseDone = func(phase string, rows int) { phases = append(phases, phase) }

	res, err := Run(context.Background(), cfg, Input{SearchURL: srv.URL + "/search/", GetItems: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RunID == "" || res.FinishedAt.Before(res.StartedAt) {
		t.Fatalf("expected run id and timestamps, got %+v", res)
	}
	if res.Blocked {
		t.Fatalf("did not expect a blocked run")
	}
	if len(res.Search.Records) != 2 {
		t.Fatalf("expected 2 search records, got %d", len(res.Search.Records))
	}
	d := res.Decomposed
	if len(d.Items) != 2 || len(d.Resources) != 2 || len(d.SegmentFiles) != 3 || len(d.ResourceFiles) != 1 {
		t.Fatalf("unexpected row counts: %d items, %d resources, %d segment files, %d resource files",
			len(d.Items), len(d.Resources), len(d.SegmentFiles), len(d.ResourceFiles))
	}
	if d.Items[1].ItemID != srv.URL+"/item/b/" || len(d.Items[1].ResourceInputURLs) != 1 {
		t.Fatalf("expected item b reached through its resource, got %+v", d.Items[1])
	}
	if len(res.Words) != 2 || res.Words[0].String != "Hello" || len(res.AltoFailures) != 0 {
		t.Fatalf("unexpected words %+v, failures %+v", res.Words, res.AltoFailures)
	}
	if !res.Errors.Empty() {
		t.Fatalf("expected no errors, got %+v", res.Errors)
	}
	if strings.Join(phases, ",") != "search,items,alto" {
		t.Fatalf("unexpected phases %v", phases)
	}

	dir := t.TempDir()
	paths, err := res.Write(dir)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	want := "search.csv,items.csv,resources.csv,files_segments.csv,files_resources.csv,alto_words.csv,errors.json"
	if strings.Join(names, ",") != want {
		t.Fatalf("expected %s, got %v", want, names)
	}
	b, err := os.ReadFile(filepath.Join(dir, "errors.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"search": []`) {
		t.Fatalf("expected every phase in errors.json, got %s", b)
	}
}

func TestRun_SeedsOnly(t *testing.T) {
	srv := newFakeLOC(t, map[string]string{"/item/a/": itemA}, nil)
	res, err := Run(context.Background(), testConfig(t, srv), Input{Seeds: []decompose.Seed{
		{ItemID: "a"},
		{ItemID: "https://www.loc.gov/item/missing/"},
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Search != nil {
		t.Fatalf("did not expect a search")
	}
	if len(res.Decomposed.Items) != 2 || len(res.Errors.Items) != 1 || res.Errors.Items[0].Message != "ERROR - NO RECORD" {
		t.Fatalf("unexpected result %+v / %+v", res.Decomposed.Items, res.Errors)
	}
	if len(res.Words) != 0 {
		t.Fatalf("ALTO extraction was not requested")
	}
}

func TestRun_BlockedSearchSkipsSeeds(t *testing.T) {
	srv := newFakeLOC(t, map[string]string{"/item/a/": itemA}, map[string]int{"/search/": http.StatusTooManyRequests})
	res, err := Run(context.Background(), testConfig(t, srv), Input{
		SearchURL: srv.URL + "/search/",
		GetItems:  true,
		Seeds:     []decompose.Seed{{ItemID: "a"}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Blocked || res.Decomposed != nil {
		t.Fatalf("expected a blocked run without decomposition, got %+v", res)
	}
	want := []string{
		"page 1: ERROR - BLOCKED",
		"search returned no results: " + srv.URL + "/search/",
		"ERROR - BLOCKED - 1 ids not requested",
	}
	if strings.Join(res.Errors.Search, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, res.Errors.Search)
	}
}

func TestRun_InvalidInput(t *testing.T) {
	if _, err := Run(context.Background(), Config{}, Input{}); !errors.Is(err, ErrNothingToDo) {
		t.Fatalf("expected ErrNothingToDo, got %v", err)
	}
	if _, err := Run(context.Background(), Config{}, Input{SearchURL: "maps of ohio"}); !errors.Is(err, ErrInvalidSearchURL) {
		t.Fatalf("expected ErrInvalidSearchURL, got %v", err)
	}
	srv := newFakeLOC(t, nil, nil)
	if _, err := Run(context.Background(), testConfig(t, srv), Input{Seeds: []decompose.Seed{{ItemID: " "}}}); !errors.Is(err, decompose.ErrNothingToFetch) {
		t.Fatalf("expected ErrNothingToFetch, got %v", err)
	}
}

func TestStorageRun(t *testing.T) {
	res := &Result{
		RunID:     "run-1",
		SearchURL: "https://www.loc.gov/maps/",
		Decomposed: &decompose.Result{
			Items: []decompose.ItemRow{{ItemID: "https://www.loc.gov/item/a/"}},
		},
		Errors: ErrorLog{
			Search:    []string{"page 2: ERROR - FORBIDDEN"},
			Items:     []decompose.ErrorEntry{{ItemID: "https://www.loc.gov/item/b/", Message: "ERROR - NO RECORD"}},
			Resources: []decompose.ErrorEntry{{ResourceID: "x", Message: "ERROR - NOT A LOC.GOV RESOURCE, API REQUEST SKIPPED"}},
		},
	}
	run := res.StorageRun("maps")
	if run.ID != "run-1" || run.Name != "maps" || len(run.Items) != 1 || run.Search != nil {
		t.Fatalf("unexpected run %+v", run)
	}
	phases := []string{storage.PhaseSearch, storage.PhaseItems, storage.PhaseResources}
	if len(run.Errors) != 3 {
		t.Fatalf("expected 3 error rows, got %d", len(run.Errors))
	}
	for i, e := range run.Errors {
		if e.Phase != phases[i] {
			t.Fatalf("error %d: expected phase %s, got %s", i, phases[i], e.Phase)
		}
	}
	if run.Errors[1].ItemID != "https://www.loc.gov/item/b/" || run.Errors[2].ResourceID != "x" {
		t.Fatalf("ids not carried over: %+v", run.Errors)
	}
}
