package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store.  Single calls are serialized by one
// mutex; transactions hold the mutex for their whole duration and work
// on a copy that replaces the live data only when fn succeeds.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]map[string]any
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]map[string]any)}
}

func (m *Memory) Get(ctx context.Context, coll, id string, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{m.data}.Get(ctx, coll, id, out)
}

func (m *Memory) Query(ctx context.Context, coll string, q Query, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{m.data}.Query(ctx, coll, q, out)
}

func (m *Memory) Insert(ctx context.Context, coll string, doc any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{m.data}.Insert(ctx, coll, doc)
}

func (m *Memory) Create(ctx context.Context, coll, id string, doc any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{m.data}.Create(ctx, coll, id, doc)
}

func (m *Memory) Update(ctx context.Context, coll, id string, set map[string]any, where ...Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{m.data}.Update(ctx, coll, id, set, where...)
}

func (m *Memory) Increment(ctx context.Context, coll, id string, inc Increment) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memView{m.data}.Increment(ctx, coll, id, inc)
}

// RunTransaction runs fn against a snapshot and publishes the snapshot
// only if fn returns nil.
func (m *Memory) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := cloneData(m.data)
	if err := fn(ctx, memView{snapshot}); err != nil {
		return err
	}
	m.data = snapshot
	return nil
}

// memView implements Tx over a data map.  Callers hold the mutex.
type memView struct {
	data map[string]map[string]map[string]any
}

func (v memView) coll(name string) map[string]map[string]any {
	c, ok := v.data[name]
	if !ok {
		c = make(map[string]map[string]any)
		v.data[name] = c
	}
	return c
}

func (v memView) Get(ctx context.Context, coll, id string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, ok := v.data[coll][id]
	if !ok {
		return ErrNotFound
	}
	return decodeOne(id, doc, out)
}

func (v memView) Query(ctx context.Context, coll string, q Query, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkFilters(q.Filters); err != nil {
		return err
	}
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return err
	}
	type hit struct {
		id  string
		doc map[string]any
	}
	var hits []hit
	for id, doc := range v.data[coll] {
		if matchAll(doc, filters) {
			hits = append(hits, hit{id, doc})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compare(hits[i].doc[q.OrderBy], hits[j].doc[q.OrderBy])
			if c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return hits[i].id < hits[j].id
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	docs := make([][]byte, 0, len(hits))
	for _, h := range hits {
		b, err := withID(h.id, h.doc)
		if err != nil {
			return err
		}
		docs = append(docs, b)
	}
	return decodeMany(docs, out)
}

func (v memView) Insert(ctx context.Context, coll string, doc any) (string, error) {
	id := uuid.NewString()
	if err := v.Create(ctx, coll, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (v memView) Create(ctx context.Context, coll, id string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("docstore: empty id")
	}
	fields, err := toFields(doc)
	if err != nil {
		return err
	}
	c := v.coll(coll)
	if _, taken := c[id]; taken {
		return ErrAlreadyExists
	}
	c[id] = fields
	return nil
}

func (v memView) Update(ctx context.Context, coll, id string, set map[string]any, where ...Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkFilters(where); err != nil {
		return err
	}
	values, err := normalizeSet(set)
	if err != nil {
		return err
	}
	filters, err := normalizeFilters(where)
	if err != nil {
		return err
	}
	doc, ok := v.data[coll][id]
	if !ok {
		return ErrNotFound
	}
	if !matchAll(doc, filters) {
		return ErrConditionFailed
	}
	for k, val := range values {
		doc[k] = val
	}
	return nil
}

func (v memView) Increment(ctx context.Context, coll, id string, inc Increment) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := checkIncrement(inc); err != nil {
		return 0, err
	}
	doc, ok := v.data[coll][id]
	if !ok {
		return 0, ErrNotFound
	}
	cur, ok := asInt64(doc[inc.Field])
	if !ok && doc[inc.Field] != nil {
		return 0, fmt.Errorf("docstore: field %s is not an integer", inc.Field)
	}
	next := cur + inc.Delta
	if inc.Min != nil && next < *inc.Min {
		return 0, ErrConditionFailed
	}
	if inc.MaxField != "" {
		if ceiling, ok := asInt64(doc[inc.MaxField]); ok && next > ceiling {
			next = ceiling
		}
	}
	doc[inc.Field] = float64(next)
	return next, nil
}

func normalizeFilters(filters []Filter) ([]Filter, error) {
	out := make([]Filter, len(filters))
	for i, f := range filters {
		v, err := normalize(f.Value)
		if err != nil {
			return nil, err
		}
		out[i] = Filter{Field: f.Field, Op: f.Op, Value: v}
	}
	return out, nil
}

func matchAll(doc map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !match(doc[f.Field], f.Op, f.Value) {
			return false
		}
	}
	return true
}

func match(have any, op Op, want any) bool {
	switch op {
	case Eq:
		return equal(have, want)
	case Ne:
		return !equal(have, want)
	}
	if have == nil || want == nil || !sameKind(have, want) {
		return false
	}
	c := compare(have, want)
	switch op {
	case Lt:
		return c < 0
	case Lte:
		return c <= 0
	case Gt:
		return c > 0
	case Gte:
		return c >= 0
	}
	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return sameKind(a, b) && compare(a, b) == 0
}

func sameKind(a, b any) bool {
	switch a.(type) {
	case float64:
		_, ok := b.(float64)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	}
	return false
}

// compare orders JSON scalars: nil < bool < number < string.
func compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		return strings.Compare(x, b.(string))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	}
	return 4
}

func cloneData(src map[string]map[string]map[string]any) map[string]map[string]map[string]any {
	dst := make(map[string]map[string]map[string]any, len(src))
	for name, coll := range src {
		c := make(map[string]map[string]any, len(coll))
		for id, doc := range coll {
			c[id] = cloneValue(doc).(map[string]any)
		}
		dst[name] = c
	}
	return dst
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = cloneValue(x)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = cloneValue(x)
		}
		return s
	}
	return v
}
