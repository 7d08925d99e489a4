// Package harvest runs one batch end to end: an optional search, the
// decomposition of its results and of any given seeds, and optional ALTO
// word extraction. All network work in a batch shares one circuit breaker.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/locdata/locharvest/pkg/decompose"
	"github.com/locdata/locharvest/pkg/fetch"
	"github.com/locdata/locharvest/pkg/flatten"
	"github.com/locdata/locharvest/pkg/fulltext"
	"github.com/locdata/locharvest/pkg/locgov"
	"github.com/locdata/locharvest/pkg/search"
	"github.com/locdata/locharvest/pkg/storage"
)

var (
	ErrNothingToDo      = errors.New("no search url and no seeds given")
	ErrInvalidSearchURL = errors.New("search url is not a url")
)

// Config holds everything Run needs besides the batch input.
type Config struct {
	Fetch   fetch.Config
	Fetcher fetch.Fetcher // optional; nil builds a fetch.Engine from Fetch
	Site    locgov.Site   // zero value is production loc.gov
	Search  search.Options
	Alto    bool         // fetch segment ALTO files and extract words
	Log     fetch.Logger // optional; nil = no logging

	// OnPhaseDone is called after each phase with the number of rows it
	// produced. Nil = no callback.
	OnPhaseDone func(phase string, rows int)
}

// Input names the work of one batch.
type Input struct {
	SearchURL string
	GetItems  bool // decompose the items and resources found by the search
	Seeds     []decompose.Seed
}

// ErrorLog groups error entries by the phase that produced them.
type ErrorLog struct {
	Search    []string               `json:"search"`
	Items     []decompose.ErrorEntry `json:"items"`
	Resources []decompose.ErrorEntry `json:"resources"`
}

// Empty reports whether no phase logged anything.
func (l ErrorLog) Empty() bool {
	return len(l.Search) == 0 && len(l.Items) == 0 && len(l.Resources) == 0
}

type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	SearchURL  string
	Blocked    bool

	Search       *search.Result    // nil without a search
	Decomposed   *decompose.Result // nil when nothing was decomposed
	Words        []fulltext.Word
	AltoFailures []fulltext.Failure
	Errors       ErrorLog
}

// Run executes one batch. Per-identifier failures end up in the result's
// ErrorLog; an error is returned only for unusable input or when ctx is
// cancelled, in which case the partial result is returned too.
func Run(ctx context.Context, cfg Config, in Input) (*Result, error) {
	log := cfg.Log
	if log == nil {
		log = fetch.NopLogger{}
	}

	in.SearchURL = strings.TrimSpace(in.SearchURL)
	if in.SearchURL == "" && len(in.Seeds) == 0 {
		return nil, ErrNothingToDo
	}
	if in.SearchURL != "" && !locgov.IsURL(in.SearchURL) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSearchURL, in.SearchURL)
	}

	f := cfg.Fetcher
	if f == nil {
		e, err := fetch.New(cfg.Fetch, fetch.WithLogger(log))
		if err != nil {
			return nil, err
		}
		f = e
	}

	breaker := fetch.NewBreaker()
	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		SearchURL: in.SearchURL,
	}
	defer func() {
		res.FinishedAt = time.Now().UTC()
		res.Blocked = breaker.Open()
	}()
	done := func(phase string, rows int) {
		if cfg.OnPhaseDone != nil {
			cfg.OnPhaseDone(phase, rows)
		}
	}

	seeds := append([]decompose.Seed(nil), in.Seeds...)

	if in.SearchURL != "" {
		sr := search.New(f, log).Run(ctx, breaker, in.SearchURL, cfg.Search)
		res.Search = sr
		res.Errors.Search = append(res.Errors.Search, sr.Diagnostics...)
		done(storage.PhaseSearch, len(sr.Records))

		if in.GetItems {
			ids := sr.Identifiers()
			for _, id := range ids.Items {
				seeds = append(seeds, decompose.Seed{ItemID: id})
			}
			for _, id := range ids.Resources {
				seeds = append(seeds, decompose.Seed{ResourceID: id})
			}
			log.Infof("Search returned %d item ids and %d resource ids (%d segments).", len(ids.Items), len(ids.Resources), len(ids.Segments))
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if len(seeds) > 0 {
		if breaker.Open() {
			log.Errorf("Requests are blocked, skipping %d item and resource ids.", len(seeds))
			res.Errors.Search = append(res.Errors.Search, fmt.Sprintf("ERROR - BLOCKED - %d ids not requested", len(seeds)))
			return res, nil
		}
		d := decompose.New(f, cfg.Site, log)
		dr, err := d.Decompose(ctx, breaker, seeds, needsResolving(seeds))
		if dr != nil {
			res.Decomposed = dr
			res.Errors.Items = append(res.Errors.Items, dr.ItemErrors...)
			res.Errors.Resources = append(res.Errors.Resources, dr.ResourceErrors...)
			done(storage.PhaseItems, len(dr.Items))
		}
		switch {
		case errors.Is(err, decompose.ErrNothingToFetch) && in.SearchURL != "":
			log.Warnf("No item or resource ids to request.")
		case err != nil:
			return res, err
		}
	}

	if cfg.Alto && res.Decomposed != nil && !breaker.Open() {
		files := fulltext.AltoFiles(res.Decomposed.SegmentFiles)
		with, total := fulltext.AltoCoverage(res.Decomposed.SegmentFiles)
		log.Infof("%d of %d items have ALTO XML.", with, total)
		urls := make([]string, 0, len(files))
		for _, sf := range files {
			urls = append(urls, sf.URL)
		}
		res.Words, res.AltoFailures = fulltext.NewExtractor(f, log).Words(ctx, breaker, urls)
		done("alto", len(res.Words))
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}

	return res, nil
}

// needsResolving reports whether any seed names only a resource.
func needsResolving(seeds []decompose.Seed) bool {
	for _, s := range seeds {
		if strings.TrimSpace(s.ItemID) == "" && strings.TrimSpace(s.ResourceID) != "" {
			return true
		}
	}
	return false
}

// Table is one output file's rows.
type Table struct {
	Name    string
	Records []*flatten.Record
}

// Tables returns the non-empty output tables in a fixed order.
func (r *Result) Tables() []Table {
	var out []Table
	add := func(name string, recs []*flatten.Record) {
		if len(recs) > 0 {
			out = append(out, Table{Name: name, Records: recs})
		}
	}
	if r.Search != nil {
		add("search.csv", r.Search.Records)
	}
	if d := r.Decomposed; d != nil {
		add("items.csv", records(d.Items, decompose.ItemRow.Record))
		add("resources.csv", records(d.Resources, decompose.ResourceRow.Record))
		add("files_segments.csv", records(d.SegmentFiles, decompose.SegmentFileRow.Record))
		add("files_resources.csv", records(d.ResourceFiles, decompose.ResourceFileRow.Record))
	}
	add("alto_words.csv", records(r.Words, fulltext.Word.Record))
	return out
}

func records[T any](rows []T, rec func(T) *flatten.Record) []*flatten.Record {
	out := make([]*flatten.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, rec(row))
	}
	return out
}

// Write saves every table as CSV and the error log as errors.json under dir.
// It returns the paths written.
func (r *Result) Write(dir string) ([]string, error) {
	var paths []string
	for _, t := range r.Tables() {
		p := filepath.Join(dir, t.Name)
		if err := storage.WriteCSV(p, t.Records); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	p := filepath.Join(dir, "errors.json")
	if err := storage.WriteErrors(p, r.Errors.normalized()); err != nil {
		return paths, err
	}
	return append(paths, p), nil
}

// normalized replaces nil slices so that every phase is present in JSON.
func (l ErrorLog) normalized() ErrorLog {
	if l.Search == nil {
		l.Search = []string{}
	}
	if l.Items == nil {
		l.Items = []decompose.ErrorEntry{}
	}
	if l.Resources == nil {
		l.Resources = []decompose.ErrorEntry{}
	}
	return l
}

// StorageRun converts the result for storage.DB.SaveRun.
func (r *Result) StorageRun(name string) storage.Run {
	run := storage.Run{
		ID:         r.RunID,
		Name:       name,
		SearchURL:  r.SearchURL,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Blocked:    r.Blocked,
	}
	if r.Search != nil {
		run.Search = r.Search.Records
	}
	if d := r.Decomposed; d != nil {
		run.Items = d.Items
		run.Resources = d.Resources
		run.SegmentFiles = d.SegmentFiles
		run.ResourceFiles = d.ResourceFiles
	}
	for _, msg := range r.Errors.Search {
		run.Errors = append(run.Errors, storage.ErrorRow{Phase: storage.PhaseSearch, Message: msg})
	}
	for _, e := range r.Errors.Items {
		run.Errors = append(run.Errors, storage.ErrorRow{Phase: storage.PhaseItems, ItemID: e.ItemID, ResourceID: e.ResourceID, Message: e.Message})
	}
	for _, e := range r.Errors.Resources {
		run.Errors = append(run.Errors, storage.ErrorRow{Phase: storage.PhaseResources, ItemID: e.ItemID, ResourceID: e.ResourceID, Message: e.Message})
	}
	return run
}
