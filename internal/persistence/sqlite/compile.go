package sqlite

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/eventhub/internal/query"
)

type fieldKind int

const (
	kindText fieldKind = iota
	kindInt
	kindFloat
	kindBool
	kindTime
)

type column struct {
	name string
	kind fieldKind
}

// collection maps the public field names of one resource onto its table.
// Fields that are not listed are ignored by filters and sorting.
type collection struct {
	table   string
	columns map[string]column
	search  string
	geo     bool
}

var usersCollection = collection{
	table: "users",
	columns: map[string]column{
		"id":        {"id", kindText},
		"name":      {"name", kindText},
		"email":     {"email", kindText},
		"role":      {"role", kindText},
		"active":    {"active", kindBool},
		"createdAt": {"created_at", kindTime},
		"updatedAt": {"updated_at", kindTime},
	},
	search: "name",
}

var eventsCollection = collection{
	table: "events",
	columns: map[string]column{
		"id":            {"id", kindText},
		"name":          {"name", kindText},
		"type":          {"type", kindText},
		"category":      {"category", kindText},
		"address":       {"address", kindText},
		"organizer":     {"organizer_id", kindText},
		"feePolicy":     {"fee_policy", kindText},
		"totalCapacity": {"total_capacity", kindInt},
		"published":     {"published", kindBool},
		"canceled":      {"canceled", kindBool},
		"dateTimeStart": {"date_time_start", kindTime},
		"dateTimeEnd":   {"date_time_end", kindTime},
		"createdAt":     {"created_at", kindTime},
		"updatedAt":     {"updated_at", kindTime},
	},
	search: "name",
	geo:    true,
}

var bookingsCollection = collection{
	table: "bookings",
	columns: map[string]column{
		"id":        {"id", kindText},
		"orderId":   {"order_id", kindText},
		"name":      {"name", kindText},
		"email":     {"email", kindText},
		"user":      {"user_id", kindText},
		"event":     {"event_id", kindText},
		"ticket":    {"ticket_id", kindText},
		"price":     {"price", kindFloat},
		"paid":      {"paid", kindBool},
		"active":    {"active", kindBool},
		"createdAt": {"created_at", kindTime},
	},
	search: "name",
}

// compiled is the SQL rendering of a query.Query.
type compiled struct {
	where   string
	args    []any
	orderBy string
	limit   int
	offset  int
	paged   bool
}

// compile renders q against c. Values that cannot be converted to the
// column's type fail with query.ErrMalformedQuery.
func (c collection) compile(q query.Query) (compiled, error) {
	var (
		clauses []string
		args    []any
	)

	for _, cond := range q.Conditions {
		col, ok := c.columns[cond.Field]
		if !ok {
			continue
		}
		value, err := convertValue(col, cond.Value)
		if err != nil {
			return compiled{}, fmt.Errorf("%w: %s: %v", query.ErrMalformedQuery, cond.Field, err)
		}
		op, err := sqlOperator(col, cond.Op)
		if err != nil {
			return compiled{}, fmt.Errorf("%w: %s: %v", query.ErrMalformedQuery, cond.Field, err)
		}
		clauses = append(clauses, fmt.Sprintf("%s %s ?", col.name, op))
		args = append(args, value)
	}

	if q.Search != "" && c.search != "" {
		clauses = append(clauses, fmt.Sprintf(`LOWER(%s) LIKE ? ESCAPE '\'`, c.search))
		args = append(args, "%"+escapeLike(strings.ToLower(q.Search))+"%")
	}

	if q.Geo != nil && c.geo {
		clauses = append(clauses,
			"location_lon IS NOT NULL AND location_lat IS NOT NULL AND "+
				"((location_lon - ?) * (location_lon - ?) + (location_lat - ?) * (location_lat - ?)) <= ?")
		args = append(args, q.Geo.Lon, q.Geo.Lon, q.Geo.Lat, q.Geo.Lat, q.Geo.Radius*q.Geo.Radius)
	}

	out := compiled{args: args, orderBy: c.orderBy(q.Sort)}
	if len(clauses) > 0 {
		out.where = " WHERE " + strings.Join(clauses, " AND ")
	}
	if q.Pagination != nil {
		out.paged = true
		out.limit = q.Pagination.Limit
		out.offset = q.Pagination.Offset()
	}
	return out, nil
}

func (c collection) orderBy(keys []query.SortKey) string {
	parts := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		col, ok := c.columns[key.Field]
		if !ok {
			continue
		}
		dir := "ASC"
		if key.Desc {
			dir = "DESC"
		}
		parts = append(parts, col.name+" "+dir)
	}
	if len(parts) == 0 {
		parts = append(parts, "created_at DESC")
	}
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ", ")
}

// selectSQL renders the row query for the given column list.
func (c compiled) selectSQL(table, columns string) (string, []any) {
	stmt := "SELECT " + columns + " FROM " + table + c.where + c.orderBy
	args := append([]any(nil), c.args...)
	if c.paged {
		stmt += " LIMIT ? OFFSET ?"
		args = append(args, c.limit, c.offset)
	}
	return stmt, args
}

func (c compiled) countSQL(table string) (string, []any) {
	return "SELECT COUNT(*) FROM " + table + c.where, c.args
}

func sqlOperator(col column, op query.Operator) (string, error) {
	switch op {
	case query.OpEq:
		return "=", nil
	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		if col.kind == kindText || col.kind == kindBool {
			return "", fmt.Errorf("range operator %s is not supported", op)
		}
		return map[query.Operator]string{query.OpGt: ">", query.OpGte: ">=", query.OpLt: "<", query.OpLte: "<="}[op], nil
	default:
		return "", fmt.Errorf("unknown operator %s", op)
	}
}

func convertValue(col column, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch col.kind {
	case kindInt:
		return strconv.Atoi(raw)
	case kindFloat:
		return strconv.ParseFloat(raw, 64)
	case kindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, err
		}
		return boolToInt(b), nil
	case kindTime:
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, err
		}
		return formatTime(t), nil
	default:
		return raw, nil
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
