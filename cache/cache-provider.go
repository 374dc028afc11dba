package cache

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent captured HTTP
// responses, grouped into named generations. Exactly one generation is
// current at any time; stale generations are deleted wholesale when a new
// agent activates. Writes to the same (generation, key) are last-write-wins.
//
// Implementations must be thread-safe. No global lock across the whole store
// is required: unrelated keys may be written concurrently.
type CacheProvider interface {
	// Get returns the stored response for the given key in the given
	// generation, if it exists.
	Get(generation, key string) ([]byte, bool, error)
	// Put stores the given response bytes, replacing any prior value for the
	// same key. There is no expiry; eviction is generation-driven.
	Put(generation, key string, bytes []byte) error
	// Has checks if the specified key exists in the generation.
	Has(generation, key string) bool
	// Purge removes a single cache entry.
	Purge(generation, key string)
	// Keys returns all keys stored in the given generation.
	Keys(generation string) ([]string, error)
	// Generations returns the names of all generations with at least one entry.
	Generations() ([]string, error)
	// DeleteGeneration removes a whole generation. Deleting a generation that
	// does not exist is not an error.
	DeleteGeneration(generation string) error
	// DeleteAll removes every generation.
	DeleteAll() error
}

type memCacheEntry struct {
	receivedAt time.Time
	bytes      []byte
}

// MemCache is an in-memory provider, used in tests and for ephemeral runs.
type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]map[string]memCacheEntry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]memCacheEntry),
	}
}

func (m MemCache) Get(generation, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[generation][key]
	if !ok {
		return nil, false, nil
	}
	return entry.bytes, true, nil
}

func (m MemCache) Put(generation, key string, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	gen, ok := m.db[generation]
	if !ok {
		gen = make(map[string]memCacheEntry)
		m.db[generation] = gen
	}
	gen[key] = memCacheEntry{time.Now(), bytes}
	return nil
}

func (m MemCache) Has(generation, key string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[generation][key]
	return ok
}

func (m MemCache) Purge(generation, key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db[generation], key)
}

func (m MemCache) Keys(generation string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	keys := make([]string, 0, len(m.db[generation]))
	for key := range m.db[generation] {
		keys = append(keys, key)
	}
	return keys, nil
}

func (m MemCache) Generations() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	generations := make([]string, 0, len(m.db))
	for name, entries := range m.db {
		if len(entries) > 0 {
			generations = append(generations, name)
		}
	}
	return generations, nil
}

func (m MemCache) DeleteGeneration(generation string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, generation)
	return nil
}

func (m MemCache) DeleteAll() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for name := range m.db {
		delete(m.db, name)
	}
	return nil
}

// SQLiteCache persists cache entries in a local sqlite database.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) SQLiteCache {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		generation TEXT,
		key TEXT,
		received_at INTEGER,
		bytes BLOB,
		PRIMARY KEY (generation, key)
	)`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS generation_idx ON cache (generation)")
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		panic(err)
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func (s SQLiteCache) Get(generation, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRow(
		"SELECT bytes FROM cache WHERE generation = ? AND key = ?",
		generation, key,
	).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteCache) Put(generation, key string, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO cache (generation, key, received_at, bytes) VALUES (?, ?, ?, ?)",
		generation, key, time.Now().Unix(), bytes)
	return err
}

func (s SQLiteCache) Has(generation, key string) bool {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM cache WHERE generation = ? AND key = ?",
		generation, key,
	).Scan(&one)
	return err == nil
}

func (s SQLiteCache) Purge(generation, key string) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE generation = ? AND key = ?", generation, key)
	if err != nil {
		panic(err)
	}
}

func (s SQLiteCache) Keys(generation string) ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM cache WHERE generation = ?", generation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s SQLiteCache) Generations() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT generation FROM cache")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	generations := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return generations, err
		}
		generations = append(generations, name)
	}
	return generations, rows.Err()
}

func (s SQLiteCache) DeleteGeneration(generation string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE generation = ?", generation)
	return err
}

func (s SQLiteCache) DeleteAll() error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache")
	return err
}
