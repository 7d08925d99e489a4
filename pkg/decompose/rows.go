package decompose

import (
	"sort"
	"strings"

	"github.com/locdata/locharvest/pkg/flatten"
)

// TopLevelFiles are the resource fields that hold a file URL directly,
// rather than through a segment.
var TopLevelFiles = []string{
	"fulltext_derivative",
	"text_file",
	"djvu_text_file",
	"djvu_xml_file",
	"fulltext_file",
	"word_coordinates",
	"image",
	"pdf",
	"closed_captions",
	"poster",
	"video",
	"video_stream",
	"background",
	"info",
	"media",
	"audio",
}

// leadingItemColumns come right after the non-item columns of an item row.
var leadingItemColumns = []string{
	"item.resources",
	"item.digitized",
	"item.number_lccn",
	"item.number_fileID",
	"item.number_uuid",
	"item.online_format",
	"item.mime_type",
	"item.partof",
	"item.group",
}

type ItemRow struct {
	ItemID            string
	ResourceInputURLs []string // seeds that led to this item, as given
	RequestError      string   // "" on success
	ResourceCount     int
	SegmentCount      int
	Fields            *flatten.Record // item record without the resources tree
}

type ResourceRow struct {
	ItemID           string
	ResourceInputURL string
	ResourceID       string
	SegmentCount     int
	Fields           *flatten.Record // resource fields except files
}

type SegmentFileRow struct {
	ItemID           string
	ResourceInputURL string
	ResourceID       string
	SegmentNum       int // zero-based
	FileNum          int // zero-based
	Mimetype         string
	URL              string
	Fields           *flatten.Record // remaining file fields
}

type ResourceFileRow struct {
	ItemID      string
	ResourceID  string
	SourceField string
	URL         string
}

// ErrorEntry is one line of the per-phase error log.
type ErrorEntry struct {
	ItemID     string `json:"item_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	Message    string `json:"message"`
}

func textOrNull(s string) flatten.Node {
	if s == "" {
		return flatten.Null()
	}
	return flatten.String(s)
}

// Record returns the row as a flat record. Fixed columns come first, then
// non-item fields, the leading item fields, and the remaining item fields
// sorted by name.
func (r ItemRow) Record() *flatten.Record {
	out := flatten.NewRecord()
	out.Set("item_id", textOrNull(r.ItemID))
	inputs := make([]flatten.Node, 0, len(r.ResourceInputURLs))
	for _, u := range r.ResourceInputURLs {
		inputs = append(inputs, flatten.String(u))
	}
	out.Set("resource_input_url", flatten.List(inputs...))
	out.Set("request_error", textOrNull(r.RequestError))
	out.Set("resource_count", flatten.Int(r.ResourceCount))
	out.Set("segment_count", flatten.Int(r.SegmentCount))

	var itemKeys []string
	for _, k := range r.Fields.Keys() {
		if strings.HasPrefix(k, "item.") {
			itemKeys = append(itemKeys, k)
			continue
		}
		v, _ := r.Fields.Get(k)
		out.Set(k, v)
	}

	leading := make(map[string]struct{}, len(leadingItemColumns))
	for _, k := range leadingItemColumns {
		leading[k] = struct{}{}
		if v, ok := r.Fields.Get(k); ok {
			out.Set(k, v)
		}
	}
	var rest []string
	for _, k := range itemKeys {
		if _, ok := leading[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		v, _ := r.Fields.Get(k)
		out.Set(k, v)
	}
	return out
}

func (r ResourceRow) Record() *flatten.Record {
	out := flatten.NewRecord()
	out.Set("item_id", flatten.String(r.ItemID))
	out.Set("resource_input_url", textOrNull(r.ResourceInputURL))
	out.Set("segment_count", flatten.Int(r.SegmentCount))
	out.Set("resource_id", textOrNull(r.ResourceID))
	out.Merge(withoutKeys(r.Fields, "item_id", "resource_input_url", "segment_count", "resource_id"))
	return out
}

func (r SegmentFileRow) Record() *flatten.Record {
	out := flatten.NewRecord()
	out.Set("item_id", flatten.String(r.ItemID))
	out.Set("resource_input_url", textOrNull(r.ResourceInputURL))
	out.Set("resource_id", textOrNull(r.ResourceID))
	out.Set("segment_num", flatten.Int(r.SegmentNum))
	out.Set("file_num", flatten.Int(r.FileNum))
	out.Set("mimetype", textOrNull(r.Mimetype))
	out.Set("url", textOrNull(r.URL))
	out.Merge(withoutKeys(r.Fields, "item_id", "resource_input_url", "resource_id", "segment_num", "file_num"))
	return out
}

func (r ResourceFileRow) Record() *flatten.Record {
	out := flatten.NewRecord()
	out.Set("item_id", flatten.String(r.ItemID))
	out.Set("resource_id", textOrNull(r.ResourceID))
	out.Set("source_field", flatten.String(r.SourceField))
	out.Set("url", textOrNull(r.URL))
	return out
}

// withoutKeys copies rec minus keys that would shadow fixed columns.
func withoutKeys(rec *flatten.Record, keys ...string) *flatten.Record {
	out := flatten.NewRecord()
	if rec == nil {
		return out
	}
	skip := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		skip[k] = struct{}{}
	}
	for _, k := range rec.Keys() {
		if _, ok := skip[k]; ok {
			continue
		}
		v, _ := rec.Get(k)
		out.Set(k, v)
	}
	return out
}
