package bodyparse

import (
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ExtendedOptions bounds ParseExtended.
type ExtendedOptions struct {
	// ParameterLimit rejects bodies with this many or more '&' separators.
	// Zero disables the check.
	ParameterLimit int
	// Depth is how many bracket segments of a key are expanded. Anything
	// deeper stays a single literal key.
	Depth int
	// ArrayLimit is the largest index written as an array element; larger
	// indexes become object keys. Zero means max(100, parameter count).
	ArrayLimit int
}

// sparse is an array under construction. Elements keep the index they were
// given; compact orders them and closes the gaps. Only set indexes cost
// memory, so a[599] allocates one element, not six hundred.
type sparse struct {
	elems map[int]any
	size  int // one past the highest index
}

func sparseOf(vals ...any) *sparse {
	s := &sparse{elems: make(map[int]any, len(vals))}
	for _, v := range vals {
		s.push(v)
	}
	return s
}

func (s *sparse) set(i int, v any) {
	s.elems[i] = v
	if i >= s.size {
		s.size = i + 1
	}
}

func (s *sparse) push(v any) { s.set(s.size, v) }

func (s *sparse) indexes() []int {
	idx := make([]int, 0, len(s.elems))
	for i := range s.elems {
		idx = append(idx, i)
	}
	slices.Sort(idx)
	return idx
}

func (s *sparse) object() map[string]any {
	m := make(map[string]any, len(s.elems))
	for i, v := range s.elems {
		m[strconv.Itoa(i)] = v
	}
	return m
}

// ParseExtended expands an application/x-www-form-urlencoded string into
// nested maps and slices using bracket syntax:
//
//	a[b][c]=1      {"a": {"b": {"c": "1"}}}
//	a[]=1&a[]=2    {"a": ["1", "2"]}
//	a[1]=x&a[5]=y  {"a": ["x", "y"]}
//	a=1&a=2        {"a": ["1", "2"]}
//
// Malformed percent escapes are kept as written.
func ParseExtended(raw string, opts ExtendedOptions) (map[string]any, error) {
	amps := strings.Count(raw, "&")
	if opts.ParameterLimit > 0 && amps >= opts.ParameterLimit {
		return nil, &Error{Status: http.StatusRequestEntityTooLarge, Msg: "too many parameters"}
	}
	if opts.ArrayLimit <= 0 {
		opts.ArrayLimit = max(100, amps)
	}

	type flat struct {
		key string
		val any
	}
	var order []string
	values := make(map[string]*flat)
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		pos := strings.Index(part, "]=")
		if pos == -1 {
			pos = strings.IndexByte(part, '=')
		} else {
			pos++
		}
		var key, val string
		if pos == -1 {
			key = decodeComponent(part)
		} else {
			key = decodeComponent(part[:pos])
			val = decodeComponent(part[pos+1:])
		}
		if key == "" {
			continue
		}
		if f, ok := values[key]; ok {
			f.val = combine(f.val, val)
			continue
		}
		values[key] = &flat{key: key, val: val}
		order = append(order, key)
	}

	var out any = map[string]any{}
	for _, k := range order {
		out = merge(out, parseKey(k, values[k].val, opts))
	}
	obj, _ := compact(out).(map[string]any)
	return obj, nil
}

func decodeComponent(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	if d, err := url.PathUnescape(s); err == nil && utf8.ValidString(d) {
		return d
	}
	return s
}

// combine concatenates a and b, flattening one level of slices.
func combine(a, b any) any {
	out := []any{}
	for _, v := range []any{a, b} {
		if s, ok := v.([]any); ok {
			out = append(out, s...)
		} else {
			out = append(out, v)
		}
	}
	return out
}

// splitKey breaks "a[b][c]" into "a", "[b]", "[c]". Segments beyond depth
// are kept together as one bracketed segment.
func splitKey(key string, depth int) []string {
	first := -1
	if depth > 0 {
		first = nextSegment(key, 0)
	}
	if first == -1 {
		return []string{key}
	}

	var segs []string
	if first > 0 {
		segs = append(segs, key[:first])
	}
	pos := first
	for i := 0; i < depth; i++ {
		start := nextSegment(key, pos)
		if start == -1 {
			return segs
		}
		end := start + strings.IndexByte(key[start:], ']') + 1
		segs = append(segs, key[start:end])
		pos = end
	}
	if rest := nextSegment(key, pos); rest != -1 {
		segs = append(segs, "["+key[rest:]+"]")
	}
	return segs
}

// nextSegment finds the next "[...]" at or after from that contains no
// other bracket, returning its start or -1.
func nextSegment(key string, from int) int {
	for i := from; i < len(key); i++ {
		if key[i] != '[' {
			continue
		}
		for j := i + 1; j < len(key); j++ {
			if key[j] == '[' {
				break
			}
			if key[j] == ']' {
				return i
			}
		}
	}
	return -1
}

func parseKey(key string, val any, opts ExtendedOptions) any {
	segs := splitKey(key, opts.Depth)
	leaf := val
	if vals, ok := leaf.([]any); ok {
		leaf = sparseOf(vals...)
	}
	for i := len(segs) - 1; i >= 0; i-- {
		root := segs[i]
		if root == "[]" {
			if _, ok := leaf.(*sparse); !ok {
				leaf = sparseOf(leaf)
			}
			continue
		}
		clean := root
		if len(root) >= 2 && root[0] == '[' && root[len(root)-1] == ']' {
			clean = root[1 : len(root)-1]
		}
		if idx, err := strconv.Atoi(clean); err == nil && root != clean && strconv.Itoa(idx) == clean && idx >= 0 && idx <= opts.ArrayLimit {
			arr := sparseOf()
			arr.set(idx, leaf)
			leaf = arr
			continue
		}
		leaf = map[string]any{clean: leaf}
	}
	return leaf
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, *sparse:
		return true
	}
	return false
}

// merge folds source into target the way repeated bracket keys accumulate.
func merge(target, source any) any {
	if source == nil {
		return target
	}
	if !isContainer(source) {
		switch t := target.(type) {
		case *sparse:
			t.push(source)
			return t
		case map[string]any:
			if s, ok := source.(string); ok {
				t[s] = true
			}
			return t
		}
		return sparseOf(target, source)
	}
	if !isContainer(target) {
		out := sparseOf(target)
		if s, ok := source.(*sparse); ok {
			for _, i := range s.indexes() {
				out.push(s.elems[i])
			}
			return out
		}
		out.push(source)
		return out
	}

	if t, ok := target.(*sparse); ok {
		if s, ok := source.(*sparse); ok {
			for _, i := range s.indexes() {
				item := s.elems[i]
				cur, taken := t.elems[i]
				switch {
				case !taken:
					t.set(i, item)
				case isContainer(cur) && isContainer(item):
					t.elems[i] = merge(cur, item)
				default:
					t.push(item)
				}
			}
			return t
		}
		target = t.object()
	}

	m := target.(map[string]any)
	for k, v := range toObject(source) {
		if cur, ok := m[k]; ok {
			m[k] = merge(cur, v)
		} else {
			m[k] = v
		}
	}
	return m
}

func toObject(v any) map[string]any {
	if s, ok := v.(*sparse); ok {
		return s.object()
	}
	return v.(map[string]any)
}

// compact turns sparse arrays into dense slices in index order, recursively.
func compact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = compact(child)
		}
		return t
	case *sparse:
		out := make([]any, 0, len(t.elems))
		for _, i := range t.indexes() {
			out = append(out, compact(t.elems[i]))
		}
		return out
	}
	return v
}
