package flatten

// Record is a single-level mapping from dotted key-paths to values. Keys keep
// the order in which they were first set. The zero value is ready to use.
type Record struct {
	keys   []string
	values map[string]Node
}

func NewRecord() *Record {
	return &Record{values: make(map[string]Node)}
}

// Set stores v under key. Overwriting a key keeps its original position.
func (r *Record) Set(key string, v Node) {
	if r.values == nil {
		r.values = make(map[string]Node)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

func (r *Record) Get(key string) (Node, bool) {
	if r == nil {
		return Node{}, false
	}
	v, ok := r.values[key]
	return v, ok
}

// Text returns the cell text for key, or "" when absent.
func (r *Record) Text(key string) string {
	v, ok := r.Get(key)
	if !ok {
		return ""
	}
	return v.Text()
}

func (r *Record) Delete(key string) {
	if r == nil {
		return
	}
	if _, ok := r.values[key]; !ok {
		return
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Keys returns a copy of the keys in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Merge copies every entry of other into r.
func (r *Record) Merge(other *Record) {
	for _, k := range other.Keys() {
		v, _ := other.Get(k)
		r.Set(k, v)
	}
}

// Node returns the record as a Mapping whose keys are the dotted paths.
func (r *Record) Node() Node {
	fields := make([]Field, 0, r.Len())
	for _, k := range r.Keys() {
		fields = append(fields, Field{Key: k, Value: r.values[k]})
	}
	return Map(fields...)
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return r.Node().MarshalJSON()
}

// Columns returns the union of keys across records, ordered by first appearance.
func Columns(records []*Record) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, rec := range records {
		for _, k := range rec.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			cols = append(cols, k)
		}
	}
	return cols
}
