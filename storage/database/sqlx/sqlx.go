// Package sqlxrepos implements the domain repositories over jmoiron/sqlx.
// Queries are written with `?` placeholders and rebound to the driver in use.
package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/types"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/abmarghoub/EduPathInsight/core"
)

// trapNoRowsErr maps the "no rows" err to notFound
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// isUniqueViolation reports whether err was caused by a unique index, on either engine.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}

func newID() string {
	return uuid.New().String()
}

// validID reports whether id may exist; malformed ids are reported as not found.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// dbTime normalizes t to what every engine stores losslessly.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func nullTime(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(dbTime(*t))
}

func timePtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func toJSON(v interface{}) (types.JSON, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding json column")
	}
	return types.JSON(data), nil
}

func toNullJSON(v interface{}) (null.JSON, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return null.JSON{}, errors.Wrap(err, "encoding json column")
	}
	return null.JSONFrom(data), nil
}

func fromJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, v), "decoding json column")
}

// where accumulates AND-ed conditions.
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) add(clause string, args ...interface{}) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// orderBy renders the ordering, keeping only whitelisted columns, or def when nothing is left.
func orderBy(ordering []core.DBOrdering, allowed map[string]bool, def string) string {
	list := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		if allowed[ord.Field] {
			list = append(list, ord.String())
		}
	}
	if len(list) == 0 {
		return " ORDER BY " + def
	}
	return " ORDER BY " + strings.Join(list, ", ")
}

// selectRows runs a rebound SELECT into dest.
func selectRows(ctx context.Context, db *sqlx.DB, dest interface{}, query string, args ...interface{}) error {
	return db.SelectContext(ctx, dest, db.Rebind(query), args...)
}

func getRow(ctx context.Context, db *sqlx.DB, dest interface{}, query string, args ...interface{}) error {
	return db.GetContext(ctx, dest, db.Rebind(query), args...)
}

// namedExec runs an INSERT/UPDATE with :name parameters bound from arg.
func namedExec(ctx context.Context, db sqlx.ExtContext, query string, arg interface{}) (sql.Result, error) {
	return sqlx.NamedExecContext(ctx, db, query, arg)
}

// exactlyOne turns a no-op UPDATE/DELETE into notFound.
func exactlyOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}
