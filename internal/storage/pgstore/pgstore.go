// Package pgstore implements storage.Store on PostgreSQL through a pgx
// connection pool. Migrate creates the tables the descriptors expect.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	zerologadapter "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"

	"github.com/eaverdeja/blograph/internal/logging"
	"github.com/eaverdeja/blograph/internal/storage"
)

const (
	errUnableToConnect = "unable to connect to postgres: %w"
	errUnableToQuery   = "unable to query %s: %w"
	errUnableToWrite   = "unable to write %s: %w"

	uniqueViolation = "23505"
)

//go:embed schema.sql
var Schema string

// PoolOptions tunes the connection pool. Zero values keep pgx defaults.
type PoolOptions struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

func (o PoolOptions) configure(cfg *pgxpool.Config) {
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}
	if o.MinConns > 0 {
		cfg.MinConns = o.MinConns
	}
	if cfg.MaxConns > 0 && cfg.MinConns > cfg.MaxConns {
		logging.Warn().Int32("max-connections", cfg.MaxConns).Int32("min-connections", cfg.MinConns).
			Msg("maximum number of connections configured is less than minimum number of connections; minimum will be used")
		cfg.MaxConns = cfg.MinConns
	}
	if o.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = o.MaxConnLifetime
	}
	if o.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = o.MaxConnIdleTime
	}
	if o.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = o.HealthCheckPeriod
	}
}

// Store is a PostgreSQL storage.Store.
type Store struct {
	pool  *pgxpool.Pool
	descs map[storage.Entity]*storage.Descriptor
}

var _ storage.Store = (*Store)(nil)

// New connects to the database at url.
func New(ctx context.Context, url string, opts PoolOptions, descs ...*storage.Descriptor) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf(errUnableToConnect, err)
	}
	opts.configure(cfg)
	configureLogger(cfg.ConnConfig)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf(errUnableToConnect, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf(errUnableToConnect, err)
	}

	s := &Store{pool: pool, descs: make(map[storage.Entity]*storage.Descriptor, len(descs))}
	for _, d := range descs {
		s.descs[d.Entity] = d
	}
	return s, nil
}

// configureLogger routes pgx statement logs through zerolog. A call whose
// context carries a storage query logger logs at info through it; other
// statements are demoted to debug.
func configureLogger(cc *pgx.ConnConfig) {
	l := zerologadapter.NewLogger(logging.Logger, zerologadapter.WithoutPGXModule(), zerologadapter.WithSubDictionary("pgx"),
		zerologadapter.WithContextFunc(func(ctx context.Context, z zerolog.Context) zerolog.Context {
			if ql, ok := storage.QueryLogger(ctx); ok {
				return ql.With()
			}
			if logger := zerolog.Ctx(ctx); logger != nil {
				return logger.With()
			}
			return z
		}))

	cc.Tracer = &tracelog.TraceLog{
		Logger: tracelog.LoggerFunc(func(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
			if _, ok := storage.QueryLogger(ctx); !ok && level == tracelog.LogLevelInfo {
				level = tracelog.LogLevelDebug
			}
			l.Log(ctx, level, msg, data)
		}),
		LogLevel: tracelog.LogLevelInfo,
	}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type tx struct {
	pgx.Tx
	done bool
}

func (t *tx) Done() bool { return t.done }

func (s *Store) querier(t storage.Tx) (querier, error) {
	if t == nil {
		return s.pool, nil
	}
	pt, ok := t.(*tx)
	if !ok {
		return nil, fmt.Errorf("pgstore: foreign transaction %T", t)
	}
	if pt.done {
		return nil, storage.ErrTxDone
	}
	return pt.Tx, nil
}

func (s *Store) describe(e storage.Entity) (*storage.Descriptor, error) {
	d, ok := s.descs[e]
	if !ok {
		return nil, fmt.Errorf("%w %q", storage.ErrUnknownEntity, e)
	}
	return d, nil
}

func scanModel(d *storage.Descriptor, row pgx.Row, attrs []string) (storage.Model, error) {
	m := d.New()
	dest := make([]any, len(attrs))
	for i, a := range attrs {
		dest[i] = m.Field(a)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return m, nil
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
	stmt, args, err := selectSQL(d, attrs, q)
	if err != nil {
		return nil, err
	}
	db, err := s.querier(q.Tx)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf(errUnableToQuery, d.Table, err)
	}
	defer rows.Close()

	var out []storage.Model
	for rows.Next() {
		m, err := scanModel(d, rows, attrs)
		if err != nil {
			return nil, fmt.Errorf(errUnableToQuery, d.Table, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf(errUnableToQuery, d.Table, err)
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

func (s *Store) Create(ctx context.Context, t storage.Tx, e storage.Entity, values storage.Values) (storage.Model, error) {
	d, err := s.describe(e)
	if err != nil {
		return nil, err
	}
	stmt, args, err := insertSQL(d, values)
	if err != nil {
		return nil, err
	}
	return s.writeRow(ctx, t, d, stmt, args)
}

func (s *Store) Update(ctx context.Context, t storage.Tx, e storage.Entity, id int64, values storage.Values) (storage.Model, error) {
	d, err := s.describe(e)
	if err != nil {
		return nil, err
	}
	stmt, args, err := updateSQL(d, id, values)
	if err != nil {
		return nil, err
	}
	return s.writeRow(ctx, t, d, stmt, args)
}

func (s *Store) writeRow(ctx context.Context, t storage.Tx, d *storage.Descriptor, stmt string, args []any) (storage.Model, error) {
	db, err := s.querier(t)
	if err != nil {
		return nil, err
	}
	m, err := scanModel(d, db.QueryRow(ctx, stmt, args...), d.Attributes)
	if err != nil {
		return nil, writeError(d, err)
	}
	return m, nil
}

func (s *Store) Destroy(ctx context.Context, t storage.Tx, e storage.Entity, id int64) error {
	d, err := s.describe(e)
	if err != nil {
		return err
	}
	stmt, args, err := deleteSQL(d, id)
	if err != nil {
		return err
	}
	db, err := s.querier(t)
	if err != nil {
		return err
	}
	tag, err := db.Exec(ctx, stmt, args...)
	if err != nil {
		return writeError(d, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func writeError(d *storage.Descriptor, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s (%s)", storage.ErrUniqueViolation, d.Entity, pgErr.ConstraintName)
	}
	return fmt.Errorf(errUnableToWrite, d.Table, err)
}

func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, t storage.Tx) error) error {
	ptx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("unable to begin transaction: %w", err)
	}
	t := &tx{Tx: ptx}
	rollback := func() {
		t.done = true
		if err := ptx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("transaction rollback failed")
		}
	}
	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, t); err != nil {
		rollback()
		return err
	}
	t.done = true
	if err := ptx.Commit(ctx); err != nil {
		return fmt.Errorf("unable to commit transaction: %w", err)
	}
	return nil
}

// Migrate applies Schema. It is safe to run against an already migrated
// database.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("unable to migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() { s.pool.Close() }
