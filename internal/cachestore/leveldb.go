package cachestore

import (
	"bytes"
	"context"
	"encoding/gob"
	stderrors "errors"
	"sort"

	"github.com/jmgilman/go/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	n:<ns>          namespace marker
//	e:<ns>\x00<key> gob(Entry)
//	m:<ns>\x00<key> gob(Meta)
const (
	prefixNamespace = "n:"
	prefixEntry     = "e:"
	prefixMeta      = "m:"
)

// LevelDB keeps every namespace in one LevelDB database on local disk.
type LevelDB struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabase, "open leveldb %s", path)
	}
	return &LevelDB{db: db}, nil
}

// NewLevelDB wraps an already open database.
func NewLevelDB(db *leveldb.DB) *LevelDB {
	return &LevelDB{db: db}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

func (l *LevelDB) Open(_ context.Context, name string) (Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	marker := []byte(prefixNamespace + name)
	ok, err := l.db.Has(marker, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "check namespace")
	}
	if !ok {
		if err := l.db.Put(marker, nil, nil); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "create namespace")
		}
	}
	return &levelCache{db: l.db, ns: name}, nil
}

func (l *LevelDB) Names(_ context.Context) ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(prefixNamespace)), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), []byte(prefixNamespace))))
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "list namespaces")
	}
	sort.Strings(out)
	return out, nil
}

func (l *LevelDB) Delete(_ context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	marker := []byte(prefixNamespace + name)
	ok, err := l.db.Has(marker, nil)
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "check namespace")
	}
	if !ok {
		return false, nil
	}

	batch := new(leveldb.Batch)
	for _, p := range []string{prefixEntry, prefixMeta} {
		it := l.db.NewIterator(util.BytesPrefix([]byte(p+name+"\x00")), nil)
		for it.Next() {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
		it.Release()
		if err := it.Error(); err != nil {
			return false, errors.Wrap(err, errors.CodeDatabase, "scan namespace")
		}
	}
	batch.Delete(marker)
	if err := l.db.Write(batch, nil); err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "delete namespace")
	}
	return true, nil
}

type levelCache struct {
	db *leveldb.DB
	ns string
}

func (c *levelCache) entryKey(key string) []byte { return []byte(prefixEntry + c.ns + "\x00" + key) }
func (c *levelCache) metaKey(key string) []byte  { return []byte(prefixMeta + c.ns + "\x00" + key) }

func (c *levelCache) Get(_ context.Context, key string) (Entry, bool, error) {
	b, err := c.db.Get(c.entryKey(key), nil)
	if stderrors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrap(err, errors.CodeDatabase, "read entry")
	}
	var ent Entry
	if err := decodeGob(b, &ent); err != nil {
		return Entry{}, false, errors.Wrap(err, errors.CodeDatabase, "decode entry")
	}
	return ent, true, nil
}

func (c *levelCache) Meta(_ context.Context, key string) (Meta, bool, error) {
	b, err := c.db.Get(c.metaKey(key), nil)
	if stderrors.Is(err, leveldb.ErrNotFound) {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, errors.Wrap(err, errors.CodeDatabase, "read meta")
	}
	var meta Meta
	if err := decodeGob(b, &meta); err != nil {
		return Meta{}, false, errors.Wrap(err, errors.CodeDatabase, "decode meta")
	}
	return meta, true, nil
}

func (c *levelCache) Put(_ context.Context, ent Entry) error {
	eb, err := encodeGob(ent)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "encode entry")
	}
	mb, err := encodeGob(metaOf(ent))
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "encode meta")
	}
	batch := new(leveldb.Batch)
	batch.Put(c.entryKey(ent.Key), eb)
	batch.Put(c.metaKey(ent.Key), mb)
	if err := c.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "write entry")
	}
	return nil
}

func (c *levelCache) Delete(_ context.Context, key string) (bool, error) {
	ok, err := c.db.Has(c.metaKey(key), nil)
	if err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "check entry")
	}
	if !ok {
		return false, nil
	}
	batch := new(leveldb.Batch)
	batch.Delete(c.entryKey(key))
	batch.Delete(c.metaKey(key))
	if err := c.db.Write(batch, nil); err != nil {
		return false, errors.Wrap(err, errors.CodeDatabase, "delete entry")
	}
	return true, nil
}

func (c *levelCache) Keys(_ context.Context) ([]string, error) {
	prefix := []byte(prefixMeta + c.ns + "\x00")
	it := c.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "list keys")
	}
	return out, nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
