// Package search walks the pages of a loc.gov search and collects its
// results as flat records.
package search

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/locdata/locharvest/pkg/fetch"
	"github.com/locdata/locharvest/pkg/flatten"
	"github.com/tidwall/gjson"
)

const (
	// PlatformCeiling is the number of results past which loc.gov stops paging.
	PlatformCeiling = 100000
	DefaultBuffer   = 10
	DefaultFields   = "results,pagination,options.is_partial"
)

type Options struct {
	PageSize  int    // "c" parameter, 0 keeps the server default
	Cap       int    // keep at most Cap results, 0 means all
	Buffer    int    // extra results gathered past Cap before stopping
	Fields    string // "at" parameter
	OnlyItems bool   // drop results that are neither items nor resources
	Ceiling   int    // declared totals above this need Confirm

	// Confirm is asked whether to go on when the declared total exceeds
	// Ceiling. A nil Confirm declines.
	Confirm func(expected int) bool
}

func DefaultOptions() Options {
	return Options{
		Buffer:    DefaultBuffer,
		Fields:    DefaultFields,
		OnlyItems: true,
		Ceiling:   PlatformCeiling,
	}
}

type Result struct {
	Records     []*flatten.Record
	Raw         []flatten.Node
	Expected    int // pagination.of of the first page
	Pages       int // pages successfully fetched
	Diagnostics []string
	Blocked     bool
}

type Traversal struct {
	fetcher fetch.Fetcher
	rules   flatten.Rules
	log     fetch.Logger
}

func New(f fetch.Fetcher, log fetch.Logger) *Traversal {
	if log == nil {
		log = fetch.NopLogger{}
	}
	return &Traversal{fetcher: f, rules: flatten.LocGovRules(), log: log}
}

func (r *Result) diag(format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	r.Diagnostics = append(r.Diagnostics, msg)
	return msg
}

// Run fetches the pages of queryURL in order. A failed page ends the
// traversal without failing it: whatever was gathered so far is returned
// along with a diagnostic.
func (t *Traversal) Run(ctx context.Context, breaker *fetch.Breaker, queryURL string, opts Options) *Result {
	if breaker == nil {
		breaker = fetch.NewBreaker()
	}
	if opts.Fields == "" {
		opts.Fields = DefaultFields
	}
	if opts.Ceiling <= 0 {
		opts.Ceiling = PlatformCeiling
	}

	base := url.Values{"fo": {"json"}, "at": {opts.Fields}}
	if opts.PageSize > 0 {
		base.Set("c", strconv.Itoa(opts.PageSize))
	}
	t.log.Infof("Search query: %s?%s", queryURL, base.Encode())

	res := &Result{}
	var raw []flatten.Node
	totalPages := 0

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			t.log.Warnf("%s", res.diag("search interrupted before page %d: %v", page, err))
			break
		}

		params := url.Values{}
		for k, v := range base {
			params[k] = v
		}
		params.Set("sp", strconv.Itoa(page))
		t.log.Infof("Requesting page %d (%s)...", page, queryURL)

		out := t.fetcher.Fetch(ctx, breaker, queryURL, params, fetch.LocGovJSON)

		if page == 1 && out.OK() {
			of := fetch.Lookup(out.Doc, "pagination.of")
			if !of.Exists() {
				t.log.Errorf("%s", res.diag("could not parse expected record count from pagination section"))
			} else {
				res.Expected = int(of.Int())
				t.log.Infof("Page 1 indicates %d total records to collect.", res.Expected)
				if res.Expected == 0 {
					t.log.Errorf("%s", res.diag("search returned no results: %s", queryURL))
					return res
				}
				if res.Expected > opts.Ceiling {
					t.log.Errorf("Your search has %d results, which is above the system limit of %d.", res.Expected, opts.Ceiling)
					if opts.Confirm == nil || !opts.Confirm(res.Expected) {
						t.log.Warnf("%s", res.diag("search skipped: %d results exceed the limit of %d", res.Expected, opts.Ceiling))
						return res
					}
				}
			}
			if total := fetch.Lookup(out.Doc, "pagination.total"); total.Exists() {
				totalPages = int(total.Int())
			}
		}

		if !out.OK() {
			res.Blocked = out.Blocked()
			t.log.Errorf("%s", res.diag("page %d: %s", page, out.Message()))
			if res.Expected > 0 && len(raw) < res.Expected {
				t.log.Errorf("%s", res.diag("%d results expected, but was only able to collect %d. Search: %s",
					res.Expected, len(raw), queryURL))
			}
			break
		}
		res.Pages++

		results := fetch.Lookup(out.Doc, "results")
		count := 0
		if results.IsArray() {
			results.ForEach(func(_, v gjson.Result) bool {
				raw = append(raw, flatten.FromResult(v))
				count++
				return true
			})
		} else {
			t.log.Warnf("%s", res.diag("failed to record results from page %d", page))
		}

		if opts.Cap > 0 && len(raw) >= opts.Cap+opts.Buffer {
			t.log.Infof("Search halting after gathering the requested number of results (plus buffer of %d): %d", opts.Buffer, opts.Cap)
			break
		}
		if totalPages > 0 && page >= totalPages {
			break
		}
		if totalPages == 0 && count == 0 {
			break
		}
	}

	before := len(raw)
	if opts.OnlyItems {
		raw = onlyItems(raw)
	}
	removed := before - len(raw)

	if opts.Cap > 0 {
		if len(raw) < opts.Cap {
			t.log.Warnf("The top %d results were requested, but the search resulted in only %d results after filtering.", opts.Cap, len(raw))
		} else if len(raw) > opts.Cap {
			raw = raw[:opts.Cap]
		}
	}

	t.log.Infof("Collected %d results of %d available. Removed %d non-item/resources. Final total: %d.",
		before, res.Expected, removed, len(raw))
	if len(raw) == 0 {
		t.log.Errorf("%s", res.diag("search returned no results: %s", queryURL))
	}

	res.Raw = raw
	res.Records = flatten.FlattenAll(raw, t.rules)
	return res
}

func onlyItems(nodes []flatten.Node) []flatten.Node {
	kept := nodes[:0:0]
	for _, n := range nodes {
		u, _ := n.Get("url")
		s := u.Text()
		if strings.Contains(s, "/item/") || strings.Contains(s, "/resource/") {
			kept = append(kept, n)
		}
	}
	return kept
}

// Identifiers splits the collected result ids by entity.
type Identifiers struct {
	Items     []string
	Resources []string
	Segments  []string // resource ids that name a segment with "sp="
}

func (r *Result) Identifiers() Identifiers {
	var ids Identifiers
	for _, rec := range r.Records {
		id := rec.Text("id")
		switch {
		case strings.Contains(id, "/item/"):
			ids.Items = append(ids.Items, id)
		case strings.Contains(id, "/resource/"):
			ids.Resources = append(ids.Resources, id)
			if hasSegment(id) {
				ids.Segments = append(ids.Segments, id)
			}
		}
	}
	return ids
}

func hasSegment(id string) bool {
	i := strings.IndexByte(id, '?')
	if i < 0 {
		return false
	}
	q, err := url.ParseQuery(id[i+1:])
	if err != nil {
		return false
	}
	_, err = strconv.Atoi(q.Get("sp"))
	return err == nil
}
