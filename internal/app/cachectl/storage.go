package cachectl

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/rs/zerolog"

	"dospill/internal/pkg/logx"
)

// ErrCacheDeleted is returned when writing into a cache that has been deleted.
var ErrCacheDeleted = errors.New("cachectl: cache was deleted")

// Storage is the durable set of named caches shared by every controller generation.
type Storage interface {
	Open(name string) (Cache, error)
	Keys() ([]string, error)
	Delete(name string) (bool, error)
	Close() error
}

// Cache is one named cache. Writes are last-writer-wins per key.
type Cache interface {
	Name() string
	Put(key string, resp *Response) error
	Match(key string) (*Response, bool, error)
	Keys() ([]string, error)
}

// Key layout:
//
//	n/<name>                 cache exists
//	c/<name>\x00<request>    stored response
const (
	namePrefix  = "n/"
	entryPrefix = "c/"
)

// PebbleStorage keeps caches in a pebble database.
type PebbleStorage struct {
	db *pebble.DB

	// mu orders Put against Delete so a write racing a delete cannot resurrect entries
	// of a cache that no longer exists.
	mu sync.RWMutex
}

// OpenPebble opens (or creates) the cache database in dir. A nil fs selects the
// operating system; tests pass vfs.NewMem().
func OpenPebble(dir string, fs vfs.FS) (*PebbleStorage, error) {
	return openPebble(dir, fs, logx.Component("pebble"))
}

func openPebble(dir string, fs vfs.FS, logger zerolog.Logger) (*PebbleStorage, error) {
	opts := &pebble.Options{Logger: pebbleLogger{logger}}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	return &PebbleStorage{db: db}, nil
}

// pebbleLogger routes pebble's own logging into zerolog. Its chatter goes to debug.
type pebbleLogger struct {
	logger zerolog.Logger
}

func (l pebbleLogger) Infof(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}

func (l pebbleLogger) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(format, args...)
}

func (l pebbleLogger) Fatalf(format string, args ...any) {
	l.logger.Fatal().Msgf(format, args...)
}

func validName(name string) error {
	if name == "" || strings.ContainsRune(name, 0) {
		return fmt.Errorf("cachectl: invalid cache name %q", name)
	}
	return nil
}

func entryRange(name string) (lower, upper []byte) {
	return []byte(entryPrefix + name + "\x00"), []byte(entryPrefix + name + "\x01")
}

func (s *PebbleStorage) Open(name string) (Cache, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Set([]byte(namePrefix+name), nil, pebble.Sync); err != nil {
		return nil, err
	}
	return &pebbleCache{storage: s, name: name}, nil
}

func (s *PebbleStorage) Keys() ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(namePrefix),
		UpperBound: []byte("n0"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var names []string
	for ok := iter.First(); ok; ok = iter.Next() {
		names = append(names, strings.TrimPrefix(string(iter.Key()), namePrefix))
	}
	return names, iter.Error()
}

// Delete removes the cache and all of its entries. It reports whether the cache existed.
func (s *PebbleStorage) Delete(name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.exists(name)
	if err != nil || !ok {
		return false, err
	}

	lower, upper := entryRange(name)
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete([]byte(namePrefix+name), nil); err != nil {
		return false, err
	}
	if err := b.DeleteRange(lower, upper, nil); err != nil {
		return false, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PebbleStorage) exists(name string) (bool, error) {
	_, closer, err := s.db.Get([]byte(namePrefix + name))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *PebbleStorage) Close() error {
	return s.db.Close()
}

type pebbleCache struct {
	storage *PebbleStorage
	name    string
}

// storedResponse is the on-disk form of a Response.
type storedResponse struct {
	Status int          `json:"status"`
	Header http.Header  `json:"header,omitempty"`
	Body   []byte       `json:"body,omitempty"`
	Type   ResponseType `json:"type"`
}

func (c *pebbleCache) Name() string { return c.name }

func (c *pebbleCache) key(request string) []byte {
	return []byte(entryPrefix + c.name + "\x00" + request)
}

func (c *pebbleCache) Put(key string, resp *Response) error {
	val, err := json.Marshal(storedResponse{
		Status: resp.Status,
		Header: resp.Header,
		Body:   resp.Body,
		Type:   resp.Type,
	})
	if err != nil {
		return err
	}

	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	ok, err := c.storage.exists(c.name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCacheDeleted
	}
	return c.storage.db.Set(c.key(key), val, pebble.Sync)
}

func (c *pebbleCache) Match(key string) (*Response, bool, error) {
	val, closer, err := c.storage.db.Get(c.key(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	var sr storedResponse
	if err := json.Unmarshal(val, &sr); err != nil {
		return nil, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	if sr.Header == nil {
		sr.Header = make(http.Header)
	}
	return &Response{Status: sr.Status, Header: sr.Header, Body: sr.Body, Type: sr.Type}, true, nil
}

func (c *pebbleCache) Keys() ([]string, error) {
	lower, upper := entryRange(c.name)
	iter, err := c.storage.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys []string
	for ok := iter.First(); ok; ok = iter.Next() {
		keys = append(keys, string(iter.Key()[len(lower):]))
	}
	return keys, iter.Error()
}
