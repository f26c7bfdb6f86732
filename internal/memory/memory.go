// Package memory is a JSON-file-backed per-session entity memory. The file
// is a shared mutable resource, so all read-modify-write cycles hold the
// store mutex and writes go through a temp-file rename.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/user/datachat/internal/store"
)

const (
	maxUsersPerSession = 500
	maxFactsPerSession = 200
)

// UserEntry is a remembered user row.
type UserEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Location string `json:"location,omitempty"`
	Age      any    `json:"age,omitempty"`
}

// Fact is a timestamped free-text note.
type Fact struct {
	TS   string `json:"ts"`
	Fact string `json:"fact"`
}

// Entities groups remembered users with lookup indexes. Order tracks
// insertion so eviction drops the oldest entries first.
type Entities struct {
	UsersByID   map[string]UserEntry `json:"users_by_id"`
	UsersByName map[string]string    `json:"users_by_name"`
	Order       []string             `json:"users_order,omitempty"`
}

// Session is the remembered state for one session ID.
type Session struct {
	Entities Entities `json:"entities"`
	Facts    []Fact   `json:"facts"`
}

type memoryFile struct {
	Sessions map[string]*Session `json:"sessions"`
}

// Store is the session memory store.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a Store at path, creating an empty memory file if none exists.
func New(path string) (*Store, error) {
	s := &Store{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(&memoryFile{Sessions: map[string]*Session{}}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the remembered state for a session. Unknown sessions return
// an empty state.
func (s *Store) Get(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem := s.load()
	if sess, ok := mem.Sessions[sessionID]; ok {
		return sess, nil
	}
	return emptySession(), nil
}

// Remember stores user rows for the session, keyed by id (or user_id),
// evicting the oldest entries past the per-session cap.
func (s *Store) Remember(sessionID string, rows []store.Row) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mem := s.load()
	sess := ensureSession(mem, sessionID)
	for _, row := range rows {
		id := stringField(row, "id")
		if id == "" {
			id = stringField(row, "user_id")
		}
		if id == "" {
			continue
		}
		entry := UserEntry{
			ID:       id,
			Name:     stringField(row, "name"),
			Email:    stringField(row, "email"),
			Location: stringField(row, "location"),
			Age:      row["age"],
		}
		if _, known := sess.Entities.UsersByID[id]; !known {
			sess.Entities.Order = append(sess.Entities.Order, id)
		}
		sess.Entities.UsersByID[id] = entry
		if entry.Name != "" {
			sess.Entities.UsersByName[normalizeName(entry.Name)] = id
		}
	}
	evictUsers(sess)

	return s.save(mem)
}

// AddFact appends a free-text fact to the session, capped at the most
// recent entries.
func (s *Store) AddFact(sessionID, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("fact is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mem := s.load()
	sess := ensureSession(mem, sessionID)
	sess.Facts = append(sess.Facts, Fact{
		TS:   time.Now().UTC().Format(time.RFC3339),
		Fact: text,
	})
	if len(sess.Facts) > maxFactsPerSession {
		sess.Facts = sess.Facts[len(sess.Facts)-maxFactsPerSession:]
	}
	return s.save(mem)
}

// Compact re-enforces the per-session caps across all sessions. It is the
// target of the periodic maintenance schedule.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mem := s.load()
	for _, sess := range mem.Sessions {
		evictUsers(sess)
		if len(sess.Facts) > maxFactsPerSession {
			sess.Facts = sess.Facts[len(sess.Facts)-maxFactsPerSession:]
		}
	}
	return s.save(mem)
}

func evictUsers(sess *Session) {
	over := len(sess.Entities.Order) - maxUsersPerSession
	if over <= 0 {
		return
	}
	for _, id := range sess.Entities.Order[:over] {
		if entry, ok := sess.Entities.UsersByID[id]; ok {
			delete(sess.Entities.UsersByName, normalizeName(entry.Name))
			delete(sess.Entities.UsersByID, id)
		}
	}
	sess.Entities.Order = sess.Entities.Order[over:]
}

// load reads the memory file; a missing or corrupt file yields an empty
// store rather than an error.
func (s *Store) load() *memoryFile {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return &memoryFile{Sessions: map[string]*Session{}}
	}
	var mem memoryFile
	if err := json.Unmarshal(data, &mem); err != nil || mem.Sessions == nil {
		return &memoryFile{Sessions: map[string]*Session{}}
	}
	return &mem
}

func (s *Store) save(mem *memoryFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	data, err := json.MarshalIndent(mem, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename memory: %w", err)
	}
	return nil
}

func ensureSession(mem *memoryFile, sessionID string) *Session {
	sess, ok := mem.Sessions[sessionID]
	if !ok {
		sess = emptySession()
		mem.Sessions[sessionID] = sess
	}
	if sess.Entities.UsersByID == nil {
		sess.Entities.UsersByID = map[string]UserEntry{}
	}
	if sess.Entities.UsersByName == nil {
		sess.Entities.UsersByName = map[string]string{}
	}
	if sess.Facts == nil {
		sess.Facts = []Fact{}
	}
	return sess
}

func emptySession() *Session {
	return &Session{
		Entities: Entities{
			UsersByID:   map[string]UserEntry{},
			UsersByName: map[string]string{},
		},
		Facts: []Fact{},
	}
}

func stringField(row store.Row, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
