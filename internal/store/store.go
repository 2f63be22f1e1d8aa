// Package store persists saved sessions so a restart can reuse a still-valid
// web-service token instead of prompting for the password again. Passwords
// are never stored, only the opaque token the server issued.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSessions = []byte("sessions")

// Session is one saved connection
type Session struct {
	URL      string    `json:"url"`
	Username string    `json:"username"`
	Service  string    `json:"service"`
	Token    string    `json:"token"`
	SiteName string    `json:"site_name"`
	SavedAt  time.Time `json:"saved_at"`
}

// SessionStore keeps saved sessions in BoltDB, keyed by a hash of the
// normalized server URL.
type SessionStore struct {
	db *bolt.DB
	mu sync.Mutex
}

// Open creates or opens the session database under dir. An empty dir means
// memory-only operation: every call succeeds and nothing persists.
func Open(dir string) (*SessionStore, error) {
	if dir == "" {
		return &SessionStore{}, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "lmsx.db")
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, berr := tx.CreateBucketIfNotExists(bucketSessions)
		return berr
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SessionStore{db: db}, nil
}

// Close releases the database file.
func (s *SessionStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save upserts the saved session for its server URL.
func (s *SessionStore) Save(sess Session) error {
	if s.db == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess.SavedAt = time.Now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(hashURL(sess.URL)), data)
	})
}

// Load returns the saved session for a server URL, if any.
func (s *SessionStore) Load(serverURL string) (*Session, bool) {
	if s.db == nil {
		return nil, false
	}

	var sess Session
	found := false
	s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(hashURL(serverURL)))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &sess); err == nil {
			found = true
		}
		return nil
	})

	if !found {
		return nil, false
	}
	return &sess, true
}

// Delete forgets the saved session for a server URL. Called on logout and
// when a restored token turns out to be dead.
func (s *SessionStore) Delete(serverURL string) error {
	if s.db == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(hashURL(serverURL)))
	})
}

func hashURL(serverURL string) string {
	normalized := strings.TrimRight(strings.ToLower(serverURL), "/")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}
