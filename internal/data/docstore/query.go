package docstore

import (
	"sort"
	"strings"
	"time"
)

type Direction int

const (
	Asc Direction = iota
	Desc
)

// Filter is an equality predicate on a (possibly dotted) field path.
type Filter struct {
	Field string
	Value any
}

type Order struct {
	Field     string
	Direction Direction
}

// Query selects documents of one collection.
type Query struct {
	Collection Path
	Filters    []Filter
	OrderBy    []Order
	Limit      int
}

func Collection(p Path) Query { return Query{Collection: p} }

func (q Query) Where(field string, value any) Query {
	q.Filters = append(append([]Filter{}, q.Filters...), Filter{Field: field, Value: value})
	return q
}

func (q Query) OrderByDesc(field string) Query {
	q.OrderBy = append(append([]Order{}, q.OrderBy...), Order{Field: field, Direction: Desc})
	return q
}

func (q Query) OrderByAsc(field string) Query {
	q.OrderBy = append(append([]Order{}, q.OrderBy...), Order{Field: field, Direction: Asc})
	return q
}

func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// sortSnapshots orders in place and drops documents missing an ordered field.
func sortSnapshots(docs []*Snapshot, orders []Order) []*Snapshot {
	if len(orders) == 0 {
		return docs
	}
	kept := docs[:0]
	for _, d := range docs {
		ok := true
		for _, o := range orders {
			if _, present := d.Lookup(o.Field); !present {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		for _, o := range orders {
			a, _ := kept[i].Lookup(o.Field)
			b, _ := kept[j].Lookup(o.Field)
			c := compareValues(a, b)
			if c == 0 {
				continue
			}
			if o.Direction == Desc {
				return c > 0
			}
			return c < 0
		}
		return kept[i].Path < kept[j].Path
	})
	return kept
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	case string:
		if bv, ok := b.(string); ok {
			ta, errA := time.Parse(time.RFC3339Nano, av)
			tb, errB := time.Parse(time.RFC3339Nano, bv)
			if errA == nil && errB == nil {
				return ta.Compare(tb)
			}
			return strings.Compare(av, bv)
		}
	}
	return strings.Compare(typeRank(a), typeRank(b))
}

func typeRank(v any) string {
	switch v.(type) {
	case nil:
		return "0"
	case bool:
		return "1"
	case float64:
		return "2"
	case string:
		return "3"
	default:
		return "4"
	}
}
