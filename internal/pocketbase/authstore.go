package pocketbase

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/keypay/keypay/internal/models"
)

// SuperusersCollection is the auth collection of PocketBase superusers.
const SuperusersCollection = "_superusers"

// AuthRecord is the authenticated model. Legacy admin models have no collection.
type AuthRecord struct {
	ID             string `json:"id"`
	CollectionID   string `json:"collectionId,omitempty"`
	CollectionName string `json:"collectionName,omitempty"`
	Email          string `json:"email,omitempty"`
	Username       string `json:"username,omitempty"`
}

// IsSuperAdmin reports whether the record is a superuser or a legacy admin.
func (r *AuthRecord) IsSuperAdmin() bool {
	if r == nil {
		return false
	}
	return r.CollectionID == "" || r.CollectionName == SuperusersCollection
}

func (r *AuthRecord) Principal() *models.Principal {
	return &models.Principal{ID: r.ID, Email: r.Email, IsSuperAdmin: r.IsSuperAdmin()}
}

// ChangeFunc is called with the new token and record on every store change.
type ChangeFunc func(token string, record *AuthRecord)

// AuthStore holds one authenticated session. It is owned by a Client and
// passed around explicitly; there is no process-wide store.
type AuthStore struct {
	mu        sync.RWMutex
	token     string
	record    *AuthRecord
	listeners map[int]ChangeFunc
	nextID    int
	now       func() time.Time
}

func NewAuthStore() *AuthStore {
	return &AuthStore{listeners: make(map[int]ChangeFunc), now: time.Now}
}

func (s *AuthStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *AuthStore) Record() *AuthRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return nil
	}
	r := *s.record
	return &r
}

// IsValid reports whether a token is present and not expired.
// The signature is not checked; the server does that on every request.
func (s *AuthStore) IsValid() bool {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	return TokenValid(token, s.now())
}

func (s *AuthStore) IsSuperAdmin() bool {
	return s.Record().IsSuperAdmin()
}

// Save replaces the session and notifies listeners.
func (s *AuthStore) Save(token string, record *AuthRecord) {
	s.mu.Lock()
	s.token = token
	if record != nil {
		r := *record
		s.record = &r
	} else {
		s.record = nil
	}
	listeners := s.snapshot()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(token, record)
	}
}

// Clear drops the session and notifies listeners.
func (s *AuthStore) Clear() {
	s.Save("", nil)
}

// OnChange registers fn and returns a function that unregisters it.
func (s *AuthStore) OnChange(fn ChangeFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *AuthStore) snapshot() []ChangeFunc {
	out := make([]ChangeFunc, 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

// TokenValid decodes the JWT payload without verifying it and checks the exp claim.
func TokenValid(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return false
	}
	return claims.VerifyExpiresAt(now.Unix(), true)
}
