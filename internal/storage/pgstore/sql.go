package pgstore

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/eaverdeja/blograph/internal/storage"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func columns(d *storage.Descriptor, attrs []string) []string {
	cols := make([]string, len(attrs))
	for i, a := range attrs {
		cols[i] = d.Column(a)
	}
	return cols
}

func toColumns(d *storage.Descriptor, w storage.Where) (sq.Eq, error) {
	out := make(sq.Eq, len(w))
	for attr, v := range w {
		if !d.Has(attr) {
			return nil, fmt.Errorf("%w %q on %s", storage.ErrUnknownAttribute, attr, d.Entity)
		}
		out[d.Column(attr)] = v
	}
	return out, nil
}

func setMap(d *storage.Descriptor, values storage.Values) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for attr, v := range values {
		switch {
		case attr == storage.PrimaryKey, attr == "createdAt", attr == "updatedAt":
			continue
		case !d.Has(attr):
			return nil, fmt.Errorf("%w %q on %s", storage.ErrUnknownAttribute, attr, d.Entity)
		}
		out[d.Column(attr)] = v
	}
	return out, nil
}

func returning(d *storage.Descriptor) string {
	return "RETURNING " + strings.Join(columns(d, d.Attributes), ", ")
}

func selectSQL(d *storage.Descriptor, attrs []string, q storage.Query) (string, []any, error) {
	b := psql.Select(columns(d, attrs)...).From(d.Table).OrderBy(storage.PrimaryKey)
	if len(q.Where) > 0 {
		where, err := toColumns(d, q.Where)
		if err != nil {
			return "", nil, err
		}
		b = b.Where(where)
	}
	if q.Limit > 0 {
		b = b.Limit(q.Limit)
	}
	if q.Offset > 0 {
		b = b.Offset(q.Offset)
	}
	return b.ToSql()
}

func insertSQL(d *storage.Descriptor, values storage.Values) (string, []any, error) {
	set, err := setMap(d, values)
	if err != nil {
		return "", nil, err
	}
	return psql.Insert(d.Table).SetMap(set).Suffix(returning(d)).ToSql()
}

func updateSQL(d *storage.Descriptor, id int64, values storage.Values) (string, []any, error) {
	set, err := setMap(d, values)
	if err != nil {
		return "", nil, err
	}
	set[d.Column("updatedAt")] = sq.Expr("now()")
	return psql.Update(d.Table).
		SetMap(set).
		Where(sq.Eq{storage.PrimaryKey: id}).
		Suffix(returning(d)).
		ToSql()
}

// deleteSQL relies on the schema's ON DELETE CASCADE foreign keys for
// dependent rows.
func deleteSQL(d *storage.Descriptor, id int64) (string, []any, error) {
	return psql.Delete(d.Table).Where(sq.Eq{storage.PrimaryKey: id}).ToSql()
}
