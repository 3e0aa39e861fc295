package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	syncerrors "github.com/marksewell/chat-sync/internal/errors"
)

const (
	// cacheDirPerm is the permission mode for the cache directory.
	cacheDirPerm = fs.FileMode(0o700)

	// cacheFilePerm is the permission mode for the cache database file.
	cacheFilePerm = fs.FileMode(0o600)

	// cacheOpenTimeout is the maximum time to wait for the bolt database lock.
	cacheOpenTimeout = 5 * time.Second
)

var (
	appBucket      = []byte("app")
	unsyncedBucket = []byte("unsynced")

	tokenKey       = []byte("token")
	chatListKey    = []byte("chat_list")
	folderListKey  = []byte("folder_list")
	personaListKey = []byte("persona_list")
	settingsKey    = []byte("settings")
	activeChatKey  = []byte("active_chat")
)

// Store wraps a bbolt database holding the last-known chat list, folder
// list, active-chat pointer, unsynced-change index, and misc app blobs.
//
// Reads are deliberately fail-soft: a missing or corrupt entry is
// indistinguishable from an empty one. The cache exists for instant paint
// on boot; the remote store is the authority and repairs any gap on the
// next reconciliation.
type Store struct {
	db *bolt.DB
}

// Load opens the cache database at <dir>/cache.db, creating it if it
// does not exist.
func Load(dir string) (*Store, error) {
	return LoadAt(filepath.Join(dir, "cache.db"))
}

// LoadAt opens a cache database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), cacheDirPerm); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := bolt.Open(path, cacheFilePerm, &bolt.Options{Timeout: cacheOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(appBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(unsyncedBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getBlob(key []byte) []byte {
	var blob []byte

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(key)
		if v != nil {
			blob = make([]byte, len(v))
			copy(blob, v)
		}

		return nil
	})

	return blob
}

func (s *Store) putBlob(key, blob []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(key, blob)
	})

	return classifyWriteError(err)
}

// classifyWriteError maps an out-of-space write failure to
// ErrStorageQuota so callers can tell a full disk apart from other
// persistence failures.
func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%v: %w", err, syncerrors.ErrStorageQuota)
	}

	return err
}

// Token returns the cached session token, or empty string.
func (s *Store) Token() string {
	return string(s.getBlob(tokenKey))
}

// SetToken persists the session token.
func (s *Store) SetToken(token string) error {
	return s.putBlob(tokenKey, []byte(token))
}

// ChatList returns the cached chat-list JSON blob, or nil when absent.
// The caller owns decoding and treats a decode failure as an empty list.
func (s *Store) ChatList() []byte {
	return s.getBlob(chatListKey)
}

// SetChatList persists the chat-list JSON blob.
func (s *Store) SetChatList(blob []byte) error {
	return s.putBlob(chatListKey, blob)
}

// FolderList returns the cached folder-list JSON blob, or nil when absent.
func (s *Store) FolderList() []byte {
	return s.getBlob(folderListKey)
}

// SetFolderList persists the folder-list JSON blob.
func (s *Store) SetFolderList(blob []byte) error {
	return s.putBlob(folderListKey, blob)
}

// PersonaList returns the cached persona-list JSON blob, or nil when absent.
func (s *Store) PersonaList() []byte {
	return s.getBlob(personaListKey)
}

// SetPersonaList persists the persona-list JSON blob.
func (s *Store) SetPersonaList(blob []byte) error {
	return s.putBlob(personaListKey, blob)
}

// Settings returns the cached user-settings JSON blob, or nil when absent.
func (s *Store) Settings() []byte {
	return s.getBlob(settingsKey)
}

// SetSettings persists the user-settings JSON blob.
func (s *Store) SetSettings(blob []byte) error {
	return s.putBlob(settingsKey, blob)
}

// ActiveChat returns the persisted active-chat pointer, or empty string.
func (s *Store) ActiveChat() string {
	return string(s.getBlob(activeChatKey))
}

// SetActiveChat persists the active-chat pointer.
func (s *Store) SetActiveChat(chatID string) error {
	return s.putBlob(activeChatKey, []byte(chatID))
}

// SetUnsynced persists the pending write ids for a chat. An empty slice
// removes the entry entirely.
func (s *Store) SetUnsynced(chatID string, ids []string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(unsyncedBucket)
		if len(ids) == 0 {
			return b.Delete([]byte(chatID))
		}

		data, err := json.Marshal(ids)
		if err != nil {
			return err
		}

		return b.Put([]byte(chatID), data)
	})

	return classifyWriteError(err)
}

// DeleteUnsynced removes the pending write entry for a chat.
func (s *Store) DeleteUnsynced(chatID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(unsyncedBucket).Delete([]byte(chatID))
	})
}

// AllUnsynced returns the full unsynced-change index. Corrupt entries
// are skipped rather than failing the whole read.
func (s *Store) AllUnsynced() map[string][]string {
	result := make(map[string][]string)

	_ = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(unsyncedBucket).ForEach(func(k, v []byte) error {
			var ids []string
			if err := json.Unmarshal(v, &ids); err != nil {
				return nil
			}

			result[string(k)] = ids

			return nil
		})
	})

	return result
}
