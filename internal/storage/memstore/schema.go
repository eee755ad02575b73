package memstore

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-memdb"

	"github.com/eaverdeja/blograph/internal/storage"
)

const indexID = storage.PrimaryKey

func buildSchema(descs []*storage.Descriptor) *memdb.DBSchema {
	s := &memdb.DBSchema{Tables: make(map[string]*memdb.TableSchema, len(descs))}
	for _, d := range descs {
		indexes := map[string]*memdb.IndexSchema{
			indexID: {Name: indexID, Unique: true, Indexer: attrIndexer{attr: storage.PrimaryKey}},
		}
		for _, a := range d.Unique {
			indexes[a] = &memdb.IndexSchema{Name: a, Unique: true, Indexer: attrIndexer{attr: a}}
		}
		for _, a := range d.Indexes {
			indexes[a] = &memdb.IndexSchema{Name: a, Indexer: attrIndexer{attr: a}}
		}
		s.Tables[d.Table] = &memdb.TableSchema{Name: d.Table, Indexes: indexes}
	}
	return s
}

// attrIndexer indexes a model attribute read through storage.Value.
// Integers sort numerically, strings lexically.
type attrIndexer struct {
	attr string
}

func (x attrIndexer) FromObject(raw any) (bool, []byte, error) {
	m, ok := raw.(storage.Model)
	if !ok {
		return false, nil, fmt.Errorf("memstore: %T is not a model", raw)
	}
	v, ok := storage.Value(m, x.attr)
	if !ok {
		return false, nil, fmt.Errorf("memstore: %s has no attribute %q", m.Entity(), x.attr)
	}
	if v == nil {
		return false, nil, nil
	}
	b, err := encodeKey(v)
	return err == nil, b, err
}

func (x attrIndexer) FromArgs(args ...any) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("memstore: index %q takes one argument", x.attr)
	}
	return encodeKey(args[0])
}

func encodeKey(v any) ([]byte, error) {
	switch k := v.(type) {
	case int64:
		return encodeInt(k), nil
	case int:
		return encodeInt(int64(k)), nil
	case int32:
		return encodeInt(int64(k)), nil
	case string:
		return append([]byte(k), 0), nil
	default:
		return nil, fmt.Errorf("memstore: cannot index %T", v)
	}
}

func encodeInt(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n)^(1<<63))
	return b
}
