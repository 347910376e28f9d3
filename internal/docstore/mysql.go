package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQLSchema creates the single table every collection lives in.
// Documents are addressed by (collection, id); the body holds the JSON
// object without its id.
const MySQLSchema = `CREATE TABLE IF NOT EXISTS documents (
    collection VARCHAR(64) NOT NULL,
    id         VARCHAR(191) NOT NULL,
    body       JSON NOT NULL,
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
    PRIMARY KEY (collection, id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// MySQL implements Store and Transactional on a MySQL 8 database.  Reads
// inside a transaction take row locks (SELECT ... FOR UPDATE) so a
// read-check-write sequence cannot interleave with another writer of
// the same document.
type MySQL struct {
	db *sql.DB
}

// NewMySQL returns a store bound to db.  The DSN should set
// clientFoundRows=true so conditional updates that leave a row unchanged
// still count as matched.
func NewMySQL(db *sql.DB) *MySQL { return &MySQL{db: db} }

// DB exposes the underlying handle.
func (s *MySQL) DB() *sql.DB { return s.db }

// EnsureSchema creates the documents table if it is missing.
func (s *MySQL) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, MySQLSchema)
	return err
}

// Close closes the connection pool.
func (s *MySQL) Close(context.Context) error { return s.db.Close() }

func (s *MySQL) Get(ctx context.Context, coll, id string, out any) error {
	return mysqlView{q: s.db}.Get(ctx, coll, id, out)
}

func (s *MySQL) Query(ctx context.Context, coll string, q Query, out any) error {
	return mysqlView{q: s.db}.Query(ctx, coll, q, out)
}

func (s *MySQL) Insert(ctx context.Context, coll string, doc any) (string, error) {
	return mysqlView{q: s.db}.Insert(ctx, coll, doc)
}

func (s *MySQL) Create(ctx context.Context, coll, id string, doc any) error {
	return mysqlView{q: s.db}.Create(ctx, coll, id, doc)
}

func (s *MySQL) Update(ctx context.Context, coll, id string, set map[string]any, where ...Filter) error {
	return mysqlView{q: s.db}.Update(ctx, coll, id, set, where...)
}

// Increment runs the guarded UPDATE and the read-back in one short
// transaction so the returned value is the one this call produced.
func (s *MySQL) Increment(ctx context.Context, coll, id string, inc Increment) (int64, error) {
	var next int64
	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		n, err := tx.Increment(ctx, coll, id, inc)
		next = n
		return err
	})
	return next, err
}

const mysqlTxAttempts = 3

// RunTransaction runs fn in a database transaction and retries it when
// InnoDB reports a deadlock or lock wait timeout.
func (s *MySQL) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= mysqlTxAttempts; attempt++ {
		err = s.runOnce(ctx, fn)
		if !isLockConflict(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*20) * time.Millisecond):
		}
	}
	return err
}

func (s *MySQL) runOnce(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(ctx, mysqlView{q: tx, lock: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func isLockConflict(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1213 || me.Number == 1205
	}
	return false
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// mysqlView implements Tx over either *sql.DB or *sql.Tx.
type mysqlView struct {
	q    sqlQuerier
	lock bool
}

func jsonPath(field string) string { return "$." + field }

func (v mysqlView) Get(ctx context.Context, coll, id string, out any) error {
	q := `SELECT body FROM documents WHERE collection = ? AND id = ?`
	if v.lock {
		q += ` FOR UPDATE`
	}
	var body []byte
	if err := v.q.QueryRowContext(ctx, q, coll, id).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return fmt.Errorf("docstore: corrupt document %s/%s: %w", coll, id, err)
	}
	return decodeOne(id, fields, out)
}

func (v mysqlView) Query(ctx context.Context, coll string, q Query, out any) error {
	stmt, args, err := buildMySQLSelect(coll, q)
	if err != nil {
		return err
	}
	rows, err := v.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	var docs [][]byte
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return err
		}
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			return fmt.Errorf("docstore: corrupt document %s/%s: %w", coll, id, err)
		}
		b, err := withID(id, fields)
		if err != nil {
			return err
		}
		docs = append(docs, b)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return decodeMany(docs, out)
}

func (v mysqlView) Insert(ctx context.Context, coll string, doc any) (string, error) {
	id := uuid.NewString()
	if err := v.Create(ctx, coll, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (v mysqlView) Create(ctx context.Context, coll, id string, doc any) error {
	if id == "" {
		return fmt.Errorf("docstore: empty id")
	}
	fields, err := toFields(doc)
	if err != nil {
		return err
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = v.q.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`,
		coll, id, string(body))
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (v mysqlView) Update(ctx context.Context, coll, id string, set map[string]any, where ...Filter) error {
	stmt, args, err := buildMySQLUpdate(coll, id, set, where)
	if err != nil {
		return err
	}
	res, err := v.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return err
	}
	return v.checkMatched(ctx, coll, id, res)
}

func (v mysqlView) Increment(ctx context.Context, coll, id string, inc Increment) (int64, error) {
	stmt, args, err := buildMySQLIncrement(coll, id, inc)
	if err != nil {
		return 0, err
	}
	res, err := v.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	if err := v.checkMatched(ctx, coll, id, res); err != nil {
		return 0, err
	}
	var next int64
	err = v.q.QueryRowContext(ctx,
		`SELECT CAST(JSON_EXTRACT(body, ?) AS SIGNED) FROM documents WHERE collection = ? AND id = ?`,
		jsonPath(inc.Field), coll, id).Scan(&next)
	return next, err
}

// checkMatched turns a zero-row UPDATE into ErrNotFound or
// ErrConditionFailed.
func (v mysqlView) checkMatched(ctx context.Context, coll, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = v.q.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE collection = ? AND id = ?`, coll, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConditionFailed
}

var mysqlOps = map[Op]string{
	Eq:  "JSON_EXTRACT(body, ?) = CAST(? AS JSON)",
	Ne:  "NOT (JSON_EXTRACT(body, ?) <=> CAST(? AS JSON))",
	Lt:  "JSON_EXTRACT(body, ?) < CAST(? AS JSON)",
	Lte: "JSON_EXTRACT(body, ?) <= CAST(? AS JSON)",
	Gt:  "JSON_EXTRACT(body, ?) > CAST(? AS JSON)",
	Gte: "JSON_EXTRACT(body, ?) >= CAST(? AS JSON)",
}

// mysqlWhere renders filters as AND-ed predicates, each taking a JSON
// path and a JSON literal argument.
func mysqlWhere(filters []Filter) (string, []any, error) {
	if err := checkFilters(filters); err != nil {
		return "", nil, err
	}
	var b strings.Builder
	args := make([]any, 0, len(filters)*2)
	for _, f := range filters {
		v, err := normalize(f.Value)
		if err != nil {
			return "", nil, err
		}
		lit, err := json.Marshal(v)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" AND ")
		b.WriteString(mysqlOps[f.Op])
		args = append(args, jsonPath(f.Field), string(lit))
	}
	return b.String(), args, nil
}

func buildMySQLSelect(coll string, q Query) (string, []any, error) {
	where, wargs, err := mysqlWhere(q.Filters)
	if err != nil {
		return "", nil, err
	}
	stmt := `SELECT id, body FROM documents WHERE collection = ?` + where
	args := append([]any{coll}, wargs...)
	if q.OrderBy != "" {
		if err := checkField(q.OrderBy); err != nil {
			return "", nil, err
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		stmt += ` ORDER BY JSON_EXTRACT(body, ?) ` + dir + `, id`
		args = append(args, jsonPath(q.OrderBy))
	} else {
		stmt += ` ORDER BY id`
	}
	if q.Limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	return stmt, args, nil
}

func buildMySQLUpdate(coll, id string, set map[string]any, where []Filter) (string, []any, error) {
	if len(set) == 0 {
		return "", nil, fmt.Errorf("docstore: empty update")
	}
	values, err := normalizeSet(set)
	if err != nil {
		return "", nil, err
	}
	keys := sortedKeys(values)
	var pairs []string
	var args []any
	for _, k := range keys {
		lit, err := json.Marshal(values[k])
		if err != nil {
			return "", nil, err
		}
		pairs = append(pairs, "?, CAST(? AS JSON)")
		args = append(args, jsonPath(k), string(lit))
	}
	cond, wargs, err := mysqlWhere(where)
	if err != nil {
		return "", nil, err
	}
	stmt := `UPDATE documents SET body = JSON_SET(body, ` + strings.Join(pairs, ", ") +
		`), updated_at = CURRENT_TIMESTAMP(6) WHERE collection = ? AND id = ?` + cond
	args = append(args, coll, id)
	args = append(args, wargs...)
	return stmt, args, nil
}

func buildMySQLIncrement(coll, id string, inc Increment) (string, []any, error) {
	if err := checkIncrement(inc); err != nil {
		return "", nil, err
	}
	const cur = "CAST(JSON_EXTRACT(body, ?) AS SIGNED)"
	expr := cur + " + ?"
	args := []any{jsonPath(inc.Field), jsonPath(inc.Field), inc.Delta}
	if inc.MaxField != "" {
		expr = "LEAST(" + expr + ", " + cur + ")"
		args = append(args, jsonPath(inc.MaxField))
	}
	stmt := `UPDATE documents SET body = JSON_SET(body, ?, ` + expr +
		`), updated_at = CURRENT_TIMESTAMP(6) WHERE collection = ? AND id = ?`
	args = append(args, coll, id)
	if inc.Min != nil {
		stmt += ` AND ` + cur + ` + ? >= ?`
		args = append(args, jsonPath(inc.Field), inc.Delta, *inc.Min)
	}
	return stmt, args, nil
}
