// Package fulltext selects full-text files from decomposed rows and turns
// ALTO XML pages into word rows.
package fulltext

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/locdata/locharvest/pkg/decompose"
	"github.com/locdata/locharvest/pkg/fetch"
	"github.com/locdata/locharvest/pkg/flatten"
)

// AltoFiles keeps the segment files that are ALTO XML.
func AltoFiles(rows []decompose.SegmentFileRow) []decompose.SegmentFileRow {
	var out []decompose.SegmentFileRow
	for _, r := range rows {
		if len(r.URL) > len(".alto.xml") && strings.HasSuffix(r.URL, ".alto.xml") {
			out = append(out, r)
		}
	}
	return out
}

// AltoCoverage counts the distinct items among rows and those with at least
// one ALTO file.
func AltoCoverage(rows []decompose.SegmentFileRow) (withAlto, total int) {
	all := map[string]bool{}
	for _, r := range rows {
		if _, ok := all[r.ItemID]; !ok {
			all[r.ItemID] = false
		}
	}
	for _, r := range AltoFiles(rows) {
		all[r.ItemID] = true
	}
	for _, has := range all {
		if has {
			withAlto++
		}
	}
	return withAlto, len(all)
}

// PlainTextFiles keeps resource files holding plain text derived from ALTO
// (text_file, *.text.txt) or from DjVu (fulltext_file, *_djvu.txt).
func PlainTextFiles(rows []decompose.ResourceFileRow) []decompose.ResourceFileRow {
	var out []decompose.ResourceFileRow
	for _, r := range rows {
		switch {
		case r.SourceField == "text_file" && hasSuffix(r.URL, ".text.txt"):
			out = append(out, r)
		case r.SourceField == "fulltext_file" && hasSuffix(r.URL, "_djvu.txt"):
			out = append(out, r)
		}
	}
	return out
}

// TEIFiles keeps XML transcriptions listed under fulltext_file.
func TEIFiles(rows []decompose.ResourceFileRow) []decompose.ResourceFileRow {
	var out []decompose.ResourceFileRow
	for _, r := range rows {
		if r.SourceField == "fulltext_file" && hasSuffix(r.URL, ".xml") {
			out = append(out, r)
		}
	}
	return out
}

func hasSuffix(s, suffix string) bool {
	return len(s) > len(suffix) && strings.HasSuffix(s, suffix)
}

// Word is one <String> of an ALTO page with the geometry of its line and block.
type Word struct {
	String          string
	StringID        string
	StringHPOS      string
	StringVPOS      string
	StringWidth     string
	StringHeight    string
	StringWC        string
	StringCC        string
	StringStyleRefs string
	TextLineID      string
	TextLineHPOS    string
	TextLineVPOS    string
	TextLineWidth   string
	TextLineHeight  string
	TextBlockID     string
	TextBlockHPOS   string
	TextBlockVPOS   string
	TextBlockWidth  string
	TextBlockHeight string
	TextBlockStyle  string
	SoftwareName    string
	SoftwareVersion string
	FileName        string
	AltoURL         string
}

func (w Word) Record() *flatten.Record {
	r := flatten.NewRecord()
	for _, c := range []struct{ k, v string }{
		{"string", w.String},
		{"string_id", w.StringID},
		{"string_hpos", w.StringHPOS},
		{"string_vpos", w.StringVPOS},
		{"string_width", w.StringWidth},
		{"string_height", w.StringHeight},
		{"string_wc", w.StringWC},
		{"string_cc", w.StringCC},
		{"string_stylerefs", w.StringStyleRefs},
		{"textline_id", w.TextLineID},
		{"textline_hpos", w.TextLineHPOS},
		{"textline_vpos", w.TextLineVPOS},
		{"textline_width", w.TextLineWidth},
		{"textline_height", w.TextLineHeight},
		{"textblock_id", w.TextBlockID},
		{"textblock_hpos", w.TextBlockHPOS},
		{"textblock_vpos", w.TextBlockVPOS},
		{"textblock_width", w.TextBlockWidth},
		{"textblock_height", w.TextBlockHeight},
		{"textblock_stylerefs", w.TextBlockStyle},
		{"softwareName", w.SoftwareName},
		{"softwareVersion", w.SoftwareVersion},
		{"fileName", w.FileName},
		{"alto_url", w.AltoURL},
	} {
		if c.v == "" {
			r.Set(c.k, flatten.Null())
		} else {
			r.Set(c.k, flatten.String(c.v))
		}
	}
	return r
}

// ParseALTO reads every word of an ALTO document. Element and attribute
// names are matched case-insensitively.
func ParseALTO(r io.Reader, src string) ([]Word, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	software := strings.TrimSpace(doc.Find("softwarename").First().Text())
	version := strings.TrimSpace(doc.Find("softwareversion").First().Text())
	fileName := strings.TrimSpace(doc.Find("filename").First().Text())

	var words []Word
	doc.Find("textblock").Each(func(_ int, block *goquery.Selection) {
		block.Find("textline").Each(func(_ int, line *goquery.Selection) {
			line.Find("string").Each(func(_ int, s *goquery.Selection) {
				words = append(words, Word{
					String:          attr(s, "content"),
					StringID:        attr(s, "id"),
					StringHPOS:      attr(s, "hpos"),
					StringVPOS:      attr(s, "vpos"),
					StringWidth:     attr(s, "width"),
					StringHeight:    attr(s, "height"),
					StringWC:        attr(s, "wc"),
					StringCC:        attr(s, "cc"),
					StringStyleRefs: attr(s, "stylerefs"),
					TextLineID:      attr(line, "id"),
					TextLineHPOS:    attr(line, "hpos"),
					TextLineVPOS:    attr(line, "vpos"),
					TextLineWidth:   attr(line, "width"),
					TextLineHeight:  attr(line, "height"),
					TextBlockID:     attr(block, "id"),
					TextBlockHPOS:   attr(block, "hpos"),
					TextBlockVPOS:   attr(block, "vpos"),
					TextBlockWidth:  attr(block, "width"),
					TextBlockHeight: attr(block, "height"),
					TextBlockStyle:  attr(block, "stylerefs"),
					SoftwareName:    software,
					SoftwareVersion: version,
					FileName:        fileName,
					AltoURL:         src,
				})
			})
		})
	})
	return words, nil
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return v
}

// Failure is an ALTO file that could not be fetched or parsed.
type Failure struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

type Extractor struct {
	fetcher fetch.Fetcher
	log     fetch.Logger
}

func NewExtractor(f fetch.Fetcher, log fetch.Logger) *Extractor {
	if log == nil {
		log = fetch.NopLogger{}
	}
	return &Extractor{fetcher: f, log: log}
}

// Words fetches each ALTO file in turn and concatenates their words.
func (x *Extractor) Words(ctx context.Context, breaker *fetch.Breaker, urls []string) ([]Word, []Failure) {
	if breaker == nil {
		breaker = fetch.NewBreaker()
	}
	x.log.Infof("Fetching XML from %d ALTO XML files . . .", len(urls))

	var (
		words    []Word
		failures []Failure
	)
	for _, u := range urls {
		if ctx.Err() != nil {
			failures = append(failures, Failure{URL: u, Message: ctx.Err().Error()})
			continue
		}
		out := x.fetcher.Fetch(ctx, breaker, u, nil, fetch.Raw)
		if !out.OK() {
			x.log.Errorf("Could not fetch %s: %s", u, out.Message())
			failures = append(failures, Failure{URL: u, Message: out.Message()})
			continue
		}
		ws, err := ParseALTO(bytes.NewReader(out.Body), u)
		if err != nil {
			x.log.Errorf("Could not parse %s as XML: %v", u, err)
			failures = append(failures, Failure{URL: u, Message: err.Error()})
			continue
		}
		x.log.Debugf("Parsed %d strings from %s", len(ws), u)
		words = append(words, ws...)
	}
	x.log.Infof("Returning %d strings from %d ALTO XML files.", len(words), len(urls))
	return words, failures
}
