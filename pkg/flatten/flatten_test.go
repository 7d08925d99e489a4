package flatten

import (
	"reflect"
	"strings"
	"testing"
)

func mustParse(t *testing.T, doc string) Node {
	t.Helper()
	n, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse %q: %v", doc, err)
	}
	return n
}

func TestFlatten_NestedMappings(t *testing.T) {
	n := mustParse(t, `{"a": {"b": 1, "c": {"d": "x"}}, "e": true}`)

	got := Flatten(n, Rules{})
	want := []string{"a.b", "a.c.d", "e"}
	if !reflect.DeepEqual(got.Keys(), want) {
		t.Fatalf("expected keys %v, got %v", want, got.Keys())
	}
	if got.Text("a.b") != "1" || got.Text("a.c.d") != "x" || got.Text("e") != "true" {
		t.Fatalf("unexpected values: %s", mustJSON(t, got))
	}
}

func TestFlatten_EmptyInput(t *testing.T) {
	got := Flatten(Map(), LocGovRules())
	if got.Len() != 0 {
		t.Fatalf("expected empty record, got %d keys", got.Len())
	}
}

func TestFlatten_EmptyNestedContainersKept(t *testing.T) {
	n := mustParse(t, `{"a": {}, "b": [], "c": {"d": {}}}`)

	got := Flatten(n, Rules{ExpandLists: true})
	want := []string{"a", "b", "c.d"}
	if !reflect.DeepEqual(got.Keys(), want) {
		t.Fatalf("expected keys %v, got %v", want, got.Keys())
	}
}

func TestFlatten_ListsVerbatimByDefault(t *testing.T) {
	n := mustParse(t, `{"a": [1, {"b": 2}]}`)

	got := Flatten(n, Rules{})
	if got.Len() != 1 {
		t.Fatalf("expected 1 key, got %v", got.Keys())
	}
	if v := got.Text("a"); v != `[1,{"b":2}]` {
		t.Fatalf("expected list kept verbatim, got %s", v)
	}
}

func TestFlatten_ExpandLists(t *testing.T) {
	n := mustParse(t, `{"a": [1, {"b": 2}, [3]]}`)

	got := Flatten(n, Rules{ExpandLists: true})
	want := []string{"a.0", "a.1.b", "a.2.0"}
	if !reflect.DeepEqual(got.Keys(), want) {
		t.Fatalf("expected keys %v, got %v", want, got.Keys())
	}
}

func TestFlatten_ExcludeByKey(t *testing.T) {
	n := mustParse(t, `{"item": {"subjects": {"x": 1}, "title": "t"}, "subjects": ["a"]}`)

	got := Flatten(n, Rules{Exclude: []string{"subjects"}, ExpandLists: true})
	want := []string{"item.subjects", "item.title", "subjects"}
	if !reflect.DeepEqual(got.Keys(), want) {
		t.Fatalf("expected keys %v, got %v", want, got.Keys())
	}
	v, _ := got.Get("item.subjects")
	if v.Kind != Mapping {
		t.Fatalf("expected excluded subtree kept as mapping, got %s", v.Kind)
	}
	v, _ = got.Get("subjects")
	if v.Kind != Sequence {
		t.Fatalf("expected excluded list kept whole, got %s", v.Kind)
	}
}

func TestFlatten_ExcludeByPathAnchoredAtStart(t *testing.T) {
	rules, err := NewRules(nil, []string{`a\.b`}, false)
	if err != nil {
		t.Fatalf("NewRules: %v", err)
	}
	n := mustParse(t, `{"a": {"b": {"c": 1}}, "x": {"a": {"b": {"c": 2}}}}`)

	got := Flatten(n, rules)
	want := []string{"a.b", "x.a.b.c"}
	if !reflect.DeepEqual(got.Keys(), want) {
		t.Fatalf("expected keys %v, got %v", want, got.Keys())
	}
}

func TestNewRules_InvalidPattern(t *testing.T) {
	if _, err := NewRules(nil, []string{"("}, false); err == nil {
		t.Fatalf("expected error for invalid pattern")
	}
}

func TestFlatten_LocGovRules(t *testing.T) {
	n := mustParse(t, `{
		"item": {"id": "https://www.loc.gov/item/1/", "item": {"title": "x"}, "contributors": ["a", "b"]},
		"resources": [{"files": [[{"url": "u"}]]}],
		"more_like_this": [{"id": 1}],
		"options": {"is_partial": false}
	}`)

	got := Flatten(n, LocGovRules())
	want := []string{"item.id", "item.item", "item.contributors", "resources", "more_like_this", "options.is_partial"}
	if !reflect.DeepEqual(got.Keys(), want) {
		t.Fatalf("expected keys %v, got %v", want, got.Keys())
	}
}

func TestFlatten_ResourceFilesPatternWithExpandedLists(t *testing.T) {
	rules := LocGovRules()
	rules.ExpandLists = true
	n := mustParse(t, `{"resources": [{"url": "r", "files": [[{"url": "f1"}], [{"url": "f2"}]]}]}`)

	got := Flatten(n, rules)
	want := []string{"resources.0.url", "resources.0.files.0", "resources.0.files.1"}
	if !reflect.DeepEqual(got.Keys(), want) {
		t.Fatalf("expected keys %v, got %v", want, got.Keys())
	}
}

func TestFlatten_Idempotent(t *testing.T) {
	docs := []string{
		`{}`,
		`{"a": 1}`,
		`{"a": {"b": {"c": [1, 2, {"d": null}]}}, "e": {}}`,
		`{"item": {"item": {"a": {"b": 1}}, "subjects": {"x": {"y": 2}}}}`,
		`{"resources": [{"files": [[{"mimetype": "image/jpeg"}]]}], "z": [[]]}`,
	}
	rulesets := []Rules{{}, {ExpandLists: true}, LocGovRules()}
	expanded := LocGovRules()
	expanded.ExpandLists = true
	rulesets = append(rulesets, expanded)

	for _, doc := range docs {
		for i, rules := range rulesets {
			once := Flatten(mustParse(t, doc), rules)
			twice := Flatten(once.Node(), rules)
			if !reflect.DeepEqual(once, twice) {
				t.Fatalf("rules %d, doc %s: expected idempotent flatten, got %s then %s",
					i, doc, mustJSON(t, once), mustJSON(t, twice))
			}
		}
	}
}

func TestFlatten_EveryLeafOnce(t *testing.T) {
	n := mustParse(t, `{"a": {"b": "1", "c": ["2", {"d": "3"}]}, "e": {"f": {"g": "4"}}, "h": "5"}`)

	got := Flatten(n, Rules{ExpandLists: true})
	seen := map[string]int{}
	for _, k := range got.Keys() {
		v, _ := got.Get(k)
		seen[v.Text()]++
	}
	for _, leaf := range []string{"1", "2", "3", "4", "5"} {
		if seen[leaf] != 1 {
			t.Fatalf("expected leaf %q exactly once, got %d", leaf, seen[leaf])
		}
	}
}

func TestFlatten_DeepNesting(t *testing.T) {
	doc := strings.Repeat(`{"a":`, 200) + `1` + strings.Repeat(`}`, 200)
	got := Flatten(mustParse(t, doc), Rules{})
	if got.Len() != 1 {
		t.Fatalf("expected 1 key, got %d", got.Len())
	}
	if k := got.Keys()[0]; strings.Count(k, ".") != 199 {
		t.Fatalf("unexpected key depth for %q", k)
	}
}

func TestFlatten_RootScalar(t *testing.T) {
	got := Flatten(String("x"), Rules{})
	if got.Text("") != "x" {
		t.Fatalf("expected root scalar under empty key, got %v", got.Keys())
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte(`{"a":`)); err != ErrInvalidJSON {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestNode_MarshalKeepsOrder(t *testing.T) {
	n := mustParse(t, `{"z": 1, "a": {"y": "<b>", "b": [true, null, 1.50]}}`)
	b, err := n.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"z":1,"a":{"y":"<b>","b":[true,null,1.50]}}`
	if string(b) != want {
		t.Fatalf("expected %s, got %s", want, b)
	}
}

func TestNode_Without(t *testing.T) {
	n := Map(KV("a", Int(1)), KV("files", List()), KV("b", Int(2)))
	got := n.Without("files")
	if got.Len() != 2 {
		t.Fatalf("expected 2 fields, got %d", got.Len())
	}
	if _, ok := got.Get("files"); ok {
		t.Fatalf("expected files dropped")
	}
}

func TestColumns(t *testing.T) {
	r1 := NewRecord()
	r1.Set("a", Int(1))
	r1.Set("b", Int(2))
	r2 := NewRecord()
	r2.Set("c", Int(3))
	r2.Set("a", Int(4))

	got := Columns([]*Record{r1, r2})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRecord_SetKeepsPositionAndDelete(t *testing.T) {
	r := &Record{}
	r.Set("a", Int(1))
	r.Set("b", Int(2))
	r.Set("a", Int(3))
	if !reflect.DeepEqual(r.Keys(), []string{"a", "b"}) {
		t.Fatalf("unexpected key order %v", r.Keys())
	}
	if r.Text("a") != "3" {
		t.Fatalf("expected overwritten value 3, got %s", r.Text("a"))
	}
	r.Delete("a")
	if !reflect.DeepEqual(r.Keys(), []string{"b"}) {
		t.Fatalf("unexpected keys after delete %v", r.Keys())
	}
}

func mustJSON(t *testing.T, r *Record) string {
	t.Helper()
	b, err := r.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
