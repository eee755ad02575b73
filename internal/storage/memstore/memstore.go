// Package memstore implements storage.Store in process memory on top of
// go-memdb. Writes go through memdb write transactions, so a rolled back
// Store.Transaction leaves no trace.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/hashicorp/go-memdb"

	"github.com/eaverdeja/blograph/internal/storage"
)

const (
	errUnableToInstantiate = "unable to instantiate memstore: %w"
	errUnableToQuery       = "unable to query %s: %w"
)

// Store is an in-memory storage.Store.
type Store struct {
	db    *memdb.MemDB
	descs map[storage.Entity]*storage.Descriptor
	now   func() time.Time

	mu  sync.Mutex
	seq map[storage.Entity]int64
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store for the given entities.
func New(descs ...*storage.Descriptor) (*Store, error) {
	db, err := memdb.NewMemDB(buildSchema(descs))
	if err != nil {
		return nil, fmt.Errorf(errUnableToInstantiate, err)
	}
	s := &Store{
		db:    db,
		descs: make(map[storage.Entity]*storage.Descriptor, len(descs)),
		now:   func() time.Time { return time.Now().UTC() },
		seq:   make(map[storage.Entity]int64, len(descs)),
	}
	for _, d := range descs {
		s.descs[d.Entity] = d
	}
	return s, nil
}

type tx struct {
	txn  *memdb.Txn
	done bool
}

func (t *tx) Done() bool { return t.done }

func (s *Store) describe(e storage.Entity) (*storage.Descriptor, error) {
	d, ok := s.descs[e]
	if !ok {
		return nil, fmt.Errorf("%w %q", storage.ErrUnknownEntity, e)
	}
	return d, nil
}

func (s *Store) readTxn(t storage.Tx) (*memdb.Txn, error) {
	if t == nil {
		return s.db.Txn(false), nil
	}
	mt, ok := t.(*tx)
	if !ok {
		return nil, fmt.Errorf("memstore: foreign transaction %T", t)
	}
	if mt.done {
		return nil, storage.ErrTxDone
	}
	return mt.txn, nil
}

// write runs fn in the caller's transaction, or in a fresh one committed on
// success when tx is nil.
func (s *Store) write(ctx context.Context, t storage.Tx, fn func(txn *memdb.Txn) error) error {
	if t != nil {
		txn, err := s.readTxn(t)
		if err != nil {
			return err
		}
		return fn(txn)
	}
	return s.Transaction(ctx, func(_ context.Context, t storage.Tx) error {
		return fn(t.(*tx).txn)
	})
}

func (s *Store) Find(ctx context.Context, e storage.Entity, q storage.Query) ([]storage.Model, error) {
	d, err := s.describe(e)
	if err != nil {
		return nil, err
	}
	attrs, err := d.Project(q.Attributes)
	if err != nil {
		return nil, err
	}
	for attr := range q.Where {
		if !d.Has(attr) {
			return nil, fmt.Errorf("%w %q on %s", storage.ErrUnknownAttribute, attr, e)
		}
	}
	logQuery(ctx, d, attrs, q)

	txn, err := s.readTxn(q.Tx)
	if err != nil {
		return nil, err
	}
	rows, err := scan(txn, d, q.Where)
	if err != nil {
		return nil, fmt.Errorf(errUnableToQuery, d.Table, err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].PrimaryKey() < rows[j].PrimaryKey() })

	if q.Offset >= uint64(len(rows)) {
		rows = nil
	} else {
		rows = rows[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < uint64(len(rows)) {
		rows = rows[:q.Limit]
	}

	out := make([]storage.Model, 0, len(rows))
	for _, m := range rows {
		c, err := storage.Copy(d, m, attrs)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) FindByID(ctx context.Context, e storage.Entity, id int64, q storage.Query) (storage.Model, error) {
	q.Where = storage.Where{storage.PrimaryKey: id}
	q.Limit, q.Offset = 1, 0
	rows, err := s.Find(ctx, e, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	return rows[0], nil
}

// scan collects the stored rows matching w, using an index where one fits.
func scan(txn *memdb.Txn, d *storage.Descriptor, w storage.Where) ([]storage.Model, error) {
	index, keys := pickIndex(d, w)
	var rows []storage.Model
	seen := make(map[int64]struct{})
	for _, k := range keys {
		var it memdb.ResultIterator
		var err error
		if k == nil {
			it, err = txn.Get(d.Table, index)
		} else {
			it, err = txn.Get(d.Table, index, k)
		}
		if err != nil {
			return nil, err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			m := obj.(storage.Model)
			if _, dup := seen[m.PrimaryKey()]; dup {
				continue
			}
			if storage.Matches(m, w) {
				seen[m.PrimaryKey()] = struct{}{}
				rows = append(rows, m)
			}
		}
	}
	return rows, nil
}

func pickIndex(d *storage.Descriptor, w storage.Where) (string, []any) {
	candidates := append([]string{storage.PrimaryKey}, d.Unique...)
	candidates = append(candidates, d.Indexes...)
	for _, attr := range candidates {
		if v, ok := w[attr]; ok {
			return attr, keyList(v)
		}
	}
	return indexID, []any{nil}
}

func keyList(v any) []any {
	switch k := v.(type) {
	case []int64:
		out := make([]any, len(k))
		for i := range k {
			out[i] = k[i]
		}
		return out
	case []string:
		out := make([]any, len(k))
		for i := range k {
			out[i] = k[i]
		}
		return out
	case []any:
		return k
	default:
		return []any{v}
	}
}

func (s *Store) nextID(e storage.Entity) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[e]++
	return s.seq[e]
}

func (s *Store) Create(ctx context.Context, t storage.Tx, e storage.Entity, values storage.Values) (storage.Model, error) {
	d, err := s.describe(e)
	if err != nil {
		return nil, err
	}
	m := d.New()
	for attr, v := range values {
		if attr == storage.PrimaryKey {
			continue
		}
		if err := storage.Assign(m, attr, v); err != nil {
			return nil, err
		}
	}
	now := s.now()
	_ = storage.Assign(m, "createdAt", now)
	_ = storage.Assign(m, "updatedAt", now)

	logStatement(ctx, d, "insert", sq.Insert(d.Table).SetMap(columnMap(d, values)))
	err = s.write(ctx, t, func(txn *memdb.Txn) error {
		if err := checkUnique(txn, d, m, 0); err != nil {
			return err
		}
		if err := storage.Assign(m, storage.PrimaryKey, s.nextID(e)); err != nil {
			return err
		}
		return txn.Insert(d.Table, m)
	})
	if err != nil {
		return nil, err
	}
	return storage.Copy(d, m, d.Attributes)
}

func (s *Store) Update(ctx context.Context, t storage.Tx, e storage.Entity, id int64, values storage.Values) (storage.Model, error) {
	d, err := s.describe(e)
	if err != nil {
		return nil, err
	}
	logStatement(ctx, d, "update", sq.Update(d.Table).SetMap(columnMap(d, values)).Where(sq.Eq{storage.PrimaryKey: id}))

	var updated storage.Model
	err = s.write(ctx, t, func(txn *memdb.Txn) error {
		raw, err := txn.First(d.Table, indexID, id)
		if err != nil {
			return err
		}
		if raw == nil {
			return storage.ErrNotFound
		}
		m, err := storage.Copy(d, raw.(storage.Model), d.Attributes)
		if err != nil {
			return err
		}
		for attr, v := range values {
			if attr == storage.PrimaryKey || attr == "createdAt" {
				continue
			}
			if err := storage.Assign(m, attr, v); err != nil {
				return err
			}
		}
		_ = storage.Assign(m, "updatedAt", s.now())
		if err := checkUnique(txn, d, m, id); err != nil {
			return err
		}
		updated = m
		return txn.Insert(d.Table, m)
	})
	if err != nil {
		return nil, err
	}
	return storage.Copy(d, updated, d.Attributes)
}

func (s *Store) Destroy(ctx context.Context, t storage.Tx, e storage.Entity, id int64) error {
	d, err := s.describe(e)
	if err != nil {
		return err
	}
	logStatement(ctx, d, "delete", sq.Delete(d.Table).Where(sq.Eq{storage.PrimaryKey: id}))
	return s.write(ctx, t, func(txn *memdb.Txn) error {
		return s.destroy(txn, d, id)
	})
}

func (s *Store) destroy(txn *memdb.Txn, d *storage.Descriptor, id int64) error {
	raw, err := txn.First(d.Table, indexID, id)
	if err != nil {
		return err
	}
	if raw == nil {
		return storage.ErrNotFound
	}
	for _, ref := range d.References {
		rd, err := s.describe(ref.Entity)
		if err != nil {
			return err
		}
		dependents, err := scan(txn, rd, storage.Where{ref.Attribute: id})
		if err != nil {
			return err
		}
		for _, dep := range dependents {
			if err := s.destroy(txn, rd, dep.PrimaryKey()); err != nil {
				return err
			}
		}
	}
	return txn.Delete(d.Table, raw)
}

func checkUnique(txn *memdb.Txn, d *storage.Descriptor, m storage.Model, self int64) error {
	for _, attr := range d.Unique {
		v, _ := storage.Value(m, attr)
		if v == nil {
			continue
		}
		raw, err := txn.First(d.Table, attr, v)
		if err != nil {
			return err
		}
		if raw != nil && raw.(storage.Model).PrimaryKey() != self {
			return fmt.Errorf("%w: %s.%s", storage.ErrUniqueViolation, d.Entity, attr)
		}
	}
	return nil
}

func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, t storage.Tx) error) error {
	t := &tx{txn: s.db.Txn(true)}
	storage.LogStatement(ctx, "", "tx", "BEGIN", nil)
	defer func() {
		if p := recover(); p != nil {
			t.rollback(ctx)
			panic(p)
		}
	}()
	if err := fn(ctx, t); err != nil {
		t.rollback(ctx)
		return err
	}
	t.done = true
	t.txn.Commit()
	storage.LogStatement(ctx, "", "tx", "COMMIT", nil)
	return nil
}

func (t *tx) rollback(ctx context.Context) {
	if t.done {
		return
	}
	t.done = true
	t.txn.Abort()
	storage.LogStatement(ctx, "", "tx", "ROLLBACK", nil)
}

func (s *Store) Close() {}

func columnMap(d *storage.Descriptor, values storage.Values) map[string]any {
	out := make(map[string]any, len(values))
	for attr, v := range values {
		if attr == "password" {
			v = "[redacted]"
		}
		out[d.Column(attr)] = v
	}
	return out
}

func columns(d *storage.Descriptor, attrs []string) []string {
	cols := make([]string, len(attrs))
	for i, a := range attrs {
		cols[i] = d.Column(a)
	}
	return cols
}

// logQuery logs the SQL a relational backend would run for q.
func logQuery(ctx context.Context, d *storage.Descriptor, attrs []string, q storage.Query) {
	b := sq.Select(columns(d, attrs)...).From(d.Table).OrderBy(storage.PrimaryKey)
	if len(q.Where) > 0 {
		where := make(sq.Eq, len(q.Where))
		for attr, v := range q.Where {
			where[d.Column(attr)] = v
		}
		b = b.Where(where)
	}
	if q.Limit > 0 {
		b = b.Limit(q.Limit)
	}
	if q.Offset > 0 {
		b = b.Offset(q.Offset)
	}
	logStatement(ctx, d, "select", b)
}

func logStatement(ctx context.Context, d *storage.Descriptor, op string, b sq.Sqlizer) {
	stmt, args, err := b.ToSql()
	if err != nil {
		return
	}
	storage.LogStatement(ctx, d.Entity, op, stmt, args)
}
