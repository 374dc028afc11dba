package client

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

const (
	dismissedVersionKey = "dismissed-version"
	themeKey            = "theme"
)

// StateStore persists the small string-valued client-side state that must
// survive page reloads: the last dismissed update version and the theme
// preference.
type StateStore struct {
	db *leveldb.DB
}

// OpenStateStore opens (creating if needed) the state database at path.
func OpenStateStore(path string) (*StateStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &StateStore{db: db}, nil
}

// NewMemoryStateStore returns a store backed by in-memory storage, for tests
// and ephemeral contexts.
func NewMemoryStateStore() *StateStore {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		panic(err)
	}
	return &StateStore{db: db}
}

func (s *StateStore) Close() error {
	return s.db.Close()
}

func (s *StateStore) get(key string) (string, error) {
	value, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// DismissedVersion returns the last update version the user declined, or the
// empty string if none is recorded.
func (s *StateStore) DismissedVersion() (string, error) {
	return s.get(dismissedVersionKey)
}

// SetDismissedVersion records that the user chose "later" for this version.
func (s *StateStore) SetDismissedVersion(version string) error {
	return s.db.Put([]byte(dismissedVersionKey), []byte(version), nil)
}

// ClearDismissedVersion forgets the dismissal, re-arming the update prompt.
func (s *StateStore) ClearDismissedVersion() error {
	return s.db.Delete([]byte(dismissedVersionKey), nil)
}

// Theme returns the persisted theme preference, or the empty string.
func (s *StateStore) Theme() (string, error) {
	return s.get(themeKey)
}

// SetTheme persists the theme preference.
func (s *StateStore) SetTheme(theme string) error {
	return s.db.Put([]byte(themeKey), []byte(theme), nil)
}
