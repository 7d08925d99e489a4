// Package decompose fetches loc.gov item records and splits each one into
// item, resource, segment-file and resource-file rows.
package decompose

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/locdata/locharvest/pkg/fetch"
	"github.com/locdata/locharvest/pkg/flatten"
	"github.com/locdata/locharvest/pkg/locgov"
)

const (
	itemFields     = "item,resources,options.is_partial"
	resourceFields = "item.id,options.is_partial"

	msgNotResource  = "ERROR - NOT A LOC.GOV RESOURCE, API REQUEST SKIPPED"
	msgNotItem      = "ERROR - NOT A LOC.GOV ITEM ID, ITEM API REQUEST SKIPPED"
	msgNoItemID     = "ERROR - COULD NOT RETRIEVE ITEM ID FROM LOC.GOV RESOURCE RECORD. ITEM API REQUEST SKIPPED."
	msgMissingItem  = "ERROR - NO ITEM ID, ITEM API REQUEST SKIPPED"
	msgBadSegment   = "ERROR - INVALID SEGMENT INDEX, API REQUEST SKIPPED"
	msgNoResources  = "Item record has no resources key: %s. Skipping parsing of resources and files."
	msgCancelled    = "ERROR - CANCELLED"
	resourceIDField = "url"
)

var ErrNothingToFetch = errors.New("no item or resource ids to fetch")

// Seed names one item, or one resource (optionally one segment of it with
// "?sp=N"), to decompose.
type Seed struct {
	ItemID     string
	ResourceID string
}

type Result struct {
	Items          []ItemRow
	Resources      []ResourceRow
	SegmentFiles   []SegmentFileRow
	ResourceFiles  []ResourceFileRow
	ItemErrors     []ErrorEntry
	ResourceErrors []ErrorEntry
	Blocked        bool
	Fetches        int // network round trips for item records
}

type Decomposer struct {
	fetcher fetch.Fetcher
	site    locgov.Site
	rules   flatten.Rules
	log     fetch.Logger
}

func New(f fetch.Fetcher, site locgov.Site, log fetch.Logger) *Decomposer {
	if log == nil {
		log = fetch.NopLogger{}
	}
	return &Decomposer{fetcher: f, site: site, rules: flatten.LocGovRules(), log: log}
}

// pending is a seed on its way to phase 2.
type pending struct {
	itemID   string
	resource string // resource URL as requested, with any query
	err      string
}

// Decompose runs both phases over seeds. When resolveResources is set, seeds
// naming only a resource are first resolved to their item. Per-seed failures
// are recorded in the result; only an empty seed list is an error. A
// cancelled ctx stops the run and returns the rows gathered so far with
// ctx's error.
func (d *Decomposer) Decompose(ctx context.Context, breaker *fetch.Breaker, seeds []Seed, resolveResources bool) (*Result, error) {
	if breaker == nil {
		breaker = fetch.NewBreaker()
	}

	var work []pending
	for _, s := range seeds {
		s.ItemID, s.ResourceID = strings.TrimSpace(s.ItemID), strings.TrimSpace(s.ResourceID)
		if s.ItemID == "" && s.ResourceID == "" {
			continue
		}
		work = append(work, pending{itemID: s.ItemID, resource: s.ResourceID})
	}
	if len(work) == 0 {
		d.log.Errorf("Attempted to request loc.gov item and resource records, but the lists of item and resource ids are empty.")
		return nil, ErrNothingToFetch
	}

	res := &Result{}

	if resolveResources {
		d.log.Infof("Requesting resource records to get item ids . . .")
		for i := range work {
			if work[i].itemID != "" {
				continue
			}
			if err := ctx.Err(); err != nil {
				res.Blocked = breaker.Open()
				return res, err
			}
			d.resolve(ctx, breaker, &work[i], res)
		}
	}

	d.log.Infof("Downloading item records from loc.gov . . .")
	p := &phase2{
		d:       d,
		res:     res,
		cache:   NewCache(),
		rows:    make(map[string]int),
		seen:    make(map[string]struct{}),
		breaker: breaker,
	}
	for _, w := range work {
		if err := ctx.Err(); err != nil {
			res.Blocked = breaker.Open()
			return res, err
		}
		p.run(ctx, w)
	}

	res.Blocked = breaker.Open()
	return res, nil
}

// resolve looks up the item owning a resource (phase 1).
func (d *Decomposer) resolve(ctx context.Context, breaker *fetch.Breaker, w *pending, res *Result) {
	rid := w.resource
	fail := func(msg string) {
		w.err = msg
		res.ResourceErrors = append(res.ResourceErrors, ErrorEntry{ResourceID: rid, Message: msg})
	}

	if locgov.IsURL(rid) && !strings.Contains(rid, "/"+string(locgov.ResourcePrefix)) {
		d.log.Errorf("Skipping %s. This does not appear to be a loc.gov resource.", rid)
		fail(msgNotResource)
		return
	}
	if _, _, err := locgov.SegmentIndex(rid); err != nil {
		d.log.Errorf("Skipping %s: %v", rid, err)
		fail(msgBadSegment)
		return
	}

	rid = d.site.Normalize(rid, locgov.ResourcePrefix)
	w.resource = rid

	out := d.fetcher.Fetch(ctx, breaker, rid, url.Values{"fo": {"json"}, "at": {resourceFields}}, fetch.LocGovJSON)
	if !out.OK() {
		fail(fmt.Sprintf("%s - %s", out.Message(), rid))
		return
	}
	itemID := fetch.Lookup(out.Doc, "item.id").String()
	if itemID == "" {
		d.log.Errorf("Could not retrieve the item id from resource: %s", rid)
		fail(msgNoItemID)
		return
	}
	w.itemID = itemID
}

type phase2 struct {
	d       *Decomposer
	res     *Result
	cache   *Cache
	rows    map[string]int      // item URL -> index in res.Items
	seen    map[string]struct{} // item URL + resource input already parsed
	breaker *fetch.Breaker
}

func (p *phase2) errorRow(itemID, input, msg string) {
	row := ItemRow{ItemID: itemID, RequestError: msg}
	if input != "" {
		row.ResourceInputURLs = []string{input}
	}
	p.res.Items = append(p.res.Items, row)
}

func (p *phase2) run(ctx context.Context, w pending) {
	d, res := p.d, p.res

	if w.err != "" {
		p.errorRow("", w.resource, w.err)
		return
	}
	if w.itemID == "" {
		d.log.Errorf("Skipping %s because there is no item_id.", w.resource)
		p.errorRow("", w.resource, msgMissingItem)
		res.ResourceErrors = append(res.ResourceErrors, ErrorEntry{ResourceID: w.resource, Message: msgMissingItem})
		return
	}
	if locgov.IsURL(w.itemID) && !strings.Contains(w.itemID, "/"+string(locgov.ItemPrefix)) {
		d.log.Errorf("Skipping %s. This does not appear to be a loc.gov item.", w.itemID)
		p.errorRow(w.itemID, w.resource, msgNotItem)
		res.ItemErrors = append(res.ItemErrors, ErrorEntry{ItemID: w.itemID, Message: msgNotItem})
		return
	}

	itemID := d.site.Normalize(w.itemID, locgov.ItemPrefix)

	var (
		target  string
		segment int
		segOK   bool
	)
	if w.resource != "" {
		var err error
		segment, segOK, err = locgov.SegmentIndex(w.resource)
		if err != nil {
			d.log.Errorf("Skipping %s: %v", w.resource, err)
			p.errorRow(itemID, w.resource, msgBadSegment)
			res.ResourceErrors = append(res.ResourceErrors, ErrorEntry{ItemID: itemID, ResourceID: w.resource, Message: msgBadSegment})
			return
		}
		target = d.site.Normalize(locgov.StripQuery(w.resource), locgov.ResourcePrefix)
	}

	key := itemID + "\x00" + w.resource
	if _, dup := p.seen[key]; dup {
		d.log.Debugf("Already parsed %s for %q", itemID, w.resource)
		return
	}
	p.seen[key] = struct{}{}

	entry, cached := p.cache.Get(itemID)
	if !cached {
		out := d.fetcher.Fetch(ctx, p.breaker, itemID, url.Values{"fo": {"json"}, "at": {itemFields}}, fetch.LocGovJSON)
		res.Fetches++
		if out.OK() {
			entry = Entry{Doc: flatten.FromResult(out.Doc)}
		} else {
			entry = Entry{Err: out.Message()}
			if ctx.Err() != nil {
				entry.Err = msgCancelled
			}
		}
		p.cache.Put(itemID, entry)
	} else {
		d.log.Debugf("Reusing cached record for %s", itemID)
	}

	idx, known := p.rows[itemID]
	if !known {
		idx = len(res.Items)
		p.rows[itemID] = idx
		res.Items = append(res.Items, p.itemRow(itemID, entry))
	}
	if w.resource != "" {
		res.Items[idx].ResourceInputURLs = append(res.Items[idx].ResourceInputURLs, w.resource)
	}

	if entry.Err != "" {
		if !known {
			d.log.Errorf("Resources and files will not be parsed because the item record could not be retrieved: %s", itemID)
			res.ItemErrors = append(res.ItemErrors, ErrorEntry{ItemID: itemID, Message: entry.Err})
		}
		return
	}

	resources, _ := entry.Doc.Get("resources")
	if resources.Kind != flatten.Sequence || len(resources.Items) == 0 {
		if !known {
			msg := fmt.Sprintf(msgNoResources, itemID)
			d.log.Infof("%s", msg)
			res.ItemErrors = append(res.ItemErrors, ErrorEntry{ItemID: itemID, Message: msg})
		}
		return
	}

	for _, resource := range resources.Items {
		resourceID := ""
		if u, ok := resource.Get(resourceIDField); ok && !u.Empty() {
			resourceID = d.site.Normalize(u.Text(), locgov.ResourcePrefix)
		}
		if target != "" && resourceID != target {
			continue
		}
		p.emitResource(itemID, w.resource, resourceID, resource, segment, segOK)
	}
}

func (p *phase2) itemRow(itemID string, entry Entry) ItemRow {
	row := ItemRow{ItemID: itemID, RequestError: entry.Err}
	if entry.Err != "" {
		return row
	}
	row.Fields = flatten.Flatten(entry.Doc.Without("resources"), p.d.rules)
	if resources, ok := entry.Doc.Get("resources"); ok && resources.Kind == flatten.Sequence {
		row.ResourceCount = len(resources.Items)
		for _, r := range resources.Items {
			files, _ := r.Get("files")
			row.SegmentCount += files.Len()
		}
	}
	return row
}

func (p *phase2) emitResource(itemID, input, resourceID string, resource flatten.Node, segment int, segOK bool) {
	res := p.res
	files, _ := resource.Get("files")

	res.Resources = append(res.Resources, ResourceRow{
		ItemID:           itemID,
		ResourceInputURL: input,
		ResourceID:       resourceID,
		SegmentCount:     files.Len(),
		Fields:           flatten.Flatten(resource.Without("files"), p.d.rules),
	})

	for _, field := range TopLevelFiles {
		v, ok := resource.Get(field)
		if !ok || v.Empty() {
			continue
		}
		res.ResourceFiles = append(res.ResourceFiles, ResourceFileRow{
			ItemID:      itemID,
			ResourceID:  resourceID,
			SourceField: field,
			URL:         v.Text(),
		})
	}

	if files.Kind != flatten.Sequence {
		return
	}
	for segIdx, group := range files.Items {
		if segOK && segIdx+1 != segment {
			continue
		}
		for fileIdx, file := range group.Items {
			mimetype, _ := file.Get("mimetype")
			fileURL, _ := file.Get("url")
			res.SegmentFiles = append(res.SegmentFiles, SegmentFileRow{
				ItemID:           itemID,
				ResourceInputURL: input,
				ResourceID:       resourceID,
				SegmentNum:       segIdx,
				FileNum:          fileIdx,
				Mimetype:         mimetype.Text(),
				URL:              fileURL.Text(),
				Fields:           flatten.Flatten(file.Without("mimetype", "url"), p.d.rules),
			})
		}
	}
}
