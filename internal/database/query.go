package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/smukkama/vrisa/internal/access"
)

// Page is an offset window into a listing.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) clause(w *where) string {
	if p.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %s OFFSET %s", w.arg(p.Limit), w.arg(p.Offset))
}

// where accumulates AND-ed conditions with positional arguments. Each "?"
// in a condition is replaced by the next $n placeholder.
type where struct {
	conds []string
	args  []any
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) add(cond string, args ...any) {
	var b strings.Builder
	next := 0
	for _, r := range cond {
		if r == '?' && next < len(args) {
			b.WriteString(w.arg(args[next]))
			next++
			continue
		}
		b.WriteRune(r)
	}
	w.conds = append(w.conds, b.String())
}

// scope restricts rows to stations visible under s. stationColumn is the
// qualified column holding the station id.
func (w *where) scope(s access.Scope, stationColumn string) {
	switch s.Kind {
	case access.ScopeAll:
	case access.ScopeConsulted:
		w.add("EXISTS (SELECT 1 FROM station_consults sc WHERE sc.station_id = "+stationColumn+
			" AND sc.authorized_profile_id = ?)", s.AuthorizedProfileID)
	default:
		w.add("FALSE")
	}
}

// containsPattern builds an ILIKE pattern matching s anywhere, with the
// wildcards in s taken literally. Pair it with ESCAPE '\'.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// countRows runs SELECT COUNT(*) over from with the accumulated
// conditions. Call it before Page.clause adds the window arguments.
func countRows(ctx context.Context, q querier, from string, w *where) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+from+w.String(), w.args...).Scan(&n)
	return n, err
}
