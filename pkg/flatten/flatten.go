// Package flatten turns nested JSON-like documents into single-level records
// keyed by dotted paths, with rules for keeping selected subtrees intact.
package flatten

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Rules controls which subtrees are kept whole and whether lists are expanded.
//
// A mapping field is kept whole when its key, or the last segment of its
// dotted path, is listed in Exclude. Any node whose full path matches one of
// ExcludeByPath from the first character is kept whole as well. Patterns are
// not anchored at the end, so "item\.item" also covers "item.item.x".
type Rules struct {
	Exclude       []string
	ExcludeByPath []*regexp.Regexp
	ExpandLists   bool
}

// NewRules compiles the path patterns.
func NewRules(exclude []string, patterns []string, expandLists bool) (Rules, error) {
	rules := Rules{Exclude: exclude, ExpandLists: expandLists}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return Rules{}, fmt.Errorf("invalid exclusion pattern %q: %w", p, err)
		}
		rules.ExcludeByPath = append(rules.ExcludeByPath, re)
	}
	return rules, nil
}

// LocGovRules are the rules used for loc.gov item and search records. The
// repeated, list-valued metadata fields stay whole, and so do per-file
// entries of resources and the item.item sub-record.
func LocGovRules() Rules {
	return Rules{
		Exclude: []string{"contributors", "locations", "subjects", "partof", "more_like_this"},
		ExcludeByPath: []*regexp.Regexp{
			regexp.MustCompile(`resources.\d.files.\d+`),
			regexp.MustCompile(`item\.item\.*`),
		},
		ExpandLists: false,
	}
}

type flattener struct {
	rules    Rules
	excluded map[string]struct{}
	out      *Record
}

// Flatten produces a flat record from n. Flattening the Node of an already
// flat record with the same rules yields an identical record.
func Flatten(n Node, rules Rules) *Record {
	f := &flattener{
		rules:    rules,
		excluded: make(map[string]struct{}, len(rules.Exclude)),
		out:      NewRecord(),
	}
	for _, k := range rules.Exclude {
		f.excluded[k] = struct{}{}
	}
	f.walk("", n)
	return f.out
}

// FlattenAll flattens each node in order.
func FlattenAll(nodes []Node, rules Rules) []*Record {
	out := make([]*Record, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Flatten(n, rules))
	}
	return out
}

func (f *flattener) walk(prefix string, n Node) {
	if prefix != "" && f.pathExcluded(prefix) {
		f.out.Set(prefix, n)
		return
	}

	switch n.Kind {
	case Mapping:
		if len(n.Fields) == 0 {
			if prefix != "" {
				f.out.Set(prefix, n)
			}
			return
		}
		for _, field := range n.Fields {
			path := join(prefix, field.Key)
			if f.keyExcluded(field.Key, path) {
				f.out.Set(path, field.Value)
				continue
			}
			f.walk(path, field.Value)
		}
	case Sequence:
		if !f.rules.ExpandLists || len(n.Items) == 0 {
			f.out.Set(prefix, n)
			return
		}
		for i, item := range n.Items {
			f.walk(join(prefix, strconv.Itoa(i)), item)
		}
	default:
		f.out.Set(prefix, n)
	}
}

func (f *flattener) keyExcluded(key, path string) bool {
	if _, ok := f.excluded[key]; ok {
		return true
	}
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		_, ok := f.excluded[path[i+1:]]
		return ok
	}
	return false
}

func (f *flattener) pathExcluded(path string) bool {
	for _, re := range f.rules.ExcludeByPath {
		if loc := re.FindStringIndex(path); loc != nil && loc[0] == 0 {
			return true
		}
	}
	return false
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
