package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

const (
	defaultPage  = 1
	defaultLimit = 10
)

// reservedKeys never become filter conditions.
var reservedKeys = map[string]struct{}{
	"page":     {},
	"sort":     {},
	"limit":    {},
	"fields":   {},
	"paginate": {},
	"search":   {},
	"loc":      {},
}

var rangeKey = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*)\[([a-z]+)\]$`)

// Features builds a Query from raw parameters through chainable steps.
// Steps may run in any order; the first parse failure sticks and is reported
// by Build.
type Features struct {
	params url.Values
	query  Query
	err    error
}

// New starts a feature pipeline over params.
func New(params url.Values) *Features {
	if params == nil {
		params = url.Values{}
	}
	return &Features{params: params}
}

// Parse runs every step and returns the resulting query.
func Parse(params url.Values) (Query, error) {
	return New(params).Filter().Sort().LimitFields().Search().Locate().Paginate().Build()
}

// Build returns the refined query or the first error encountered.
func (f *Features) Build() (Query, error) {
	if f.err != nil {
		return Query{}, f.err
	}
	return f.query, nil
}

func (f *Features) fail(format string, args ...any) {
	if f.err == nil {
		f.err = fmt.Errorf("%w: %s", ErrMalformedQuery, fmt.Sprintf(format, args...))
	}
}

// Filter turns every non-reserved key into an equality condition, and
// bracketed keys such as price[gte] into range conditions.
func (f *Features) Filter() *Features {
	keys := make([]string, 0, len(f.params))
	for key := range f.params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := make([]Condition, 0, len(keys))
	for _, key := range keys {
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		value := f.params.Get(key)
		if m := rangeKey.FindStringSubmatch(key); m != nil {
			op := Operator(m[2])
			switch op {
			case OpGt, OpGte, OpLt, OpLte:
			default:
				f.fail("unsupported operator %q on %s", m[2], m[1])
				return f
			}
			conditions = append(conditions, Condition{Field: m[1], Op: op, Value: value})
			continue
		}
		if strings.ContainsAny(key, "[]") {
			f.fail("invalid filter key %q", key)
			return f
		}
		conditions = append(conditions, Condition{Field: key, Op: OpEq, Value: value})
	}
	f.query.Conditions = conditions
	return f
}

// Sort reads a comma separated field list; a leading '-' sorts descending.
// Without a sort parameter results are ordered newest first.
func (f *Features) Sort() *Features {
	raw := strings.TrimSpace(f.params.Get("sort"))
	if raw == "" {
		f.query.Sort = []SortKey{{Field: "createdAt", Desc: true}}
		return f
	}
	keys := make([]SortKey, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, "-") {
			keys = append(keys, SortKey{Field: strings.TrimPrefix(part, "-"), Desc: true})
			continue
		}
		keys = append(keys, SortKey{Field: strings.TrimPrefix(part, "+")})
	}
	if len(keys) == 0 {
		keys = []SortKey{{Field: "createdAt", Desc: true}}
	}
	f.query.Sort = keys
	return f
}

// LimitFields reads the projection allow-list. Despite its name the limit
// parameter restricts returned fields, not rows; fields is accepted as an alias.
func (f *Features) LimitFields() *Features {
	raw := f.params.Get("limit")
	if strings.TrimSpace(raw) == "" {
		raw = f.params.Get("fields")
	}
	fields := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			fields = append(fields, part)
		}
	}
	if len(fields) > 0 {
		f.query.Fields = fields
	}
	return f
}

// Search sets a case-insensitive substring match on the name field.
func (f *Features) Search() *Features {
	f.query.Search = strings.TrimSpace(f.params.Get("search"))
	return f
}

type locParams struct {
	Center []float64 `json:"center"`
	Radius *float64  `json:"radius"`
}

// Locate reads loc={"center":[lon,lat],"radius":r}.
func (f *Features) Locate() *Features {
	raw := strings.TrimSpace(f.params.Get("loc"))
	if raw == "" {
		return f
	}
	var loc locParams
	if err := decodeStrict(raw, &loc); err != nil {
		f.fail("loc: %v", err)
		return f
	}
	if len(loc.Center) != 2 || loc.Radius == nil {
		f.fail("loc requires center [lon,lat] and radius")
		return f
	}
	lon, lat, radius := loc.Center[0], loc.Center[1], *loc.Radius
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		f.fail("loc center out of range")
		return f
	}
	if radius <= 0 {
		f.fail("loc radius must be positive")
		return f
	}
	f.query.Geo = &Geo{Lon: lon, Lat: lat, Radius: radius}
	return f
}

// Paginate reads paginate={"page":n,"limit":m}. Missing or non-positive
// values fall back to page 1 and 10 rows.
func (f *Features) Paginate() *Features {
	raw := strings.TrimSpace(f.params.Get("paginate"))
	if raw == "" {
		return f
	}
	var p Pagination
	if err := decodeStrict(raw, &p); err != nil {
		f.fail("paginate: %v", err)
		return f
	}
	if p.Page < 1 {
		p.Page = defaultPage
	}
	if p.Limit < 1 {
		p.Limit = defaultLimit
	}
	f.query.Pagination = &p
	return f
}

func decodeStrict(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data")
	}
	return nil
}
