package services

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sufield/credo/internal/core/errors"
)

// User is a registered account of the delegation token service.
type User struct {
	ID       string
	Username string
	Email    string
	hash     []byte
}

// UserStore keeps user accounts in memory with bcrypt password hashes.
// The trust core does not persist accounts; deployments needing durable
// users front this with their own identity provider.
type UserStore struct {
	mu     sync.RWMutex
	byName map[string]*User
	byID   map[string]*User
	cost   int
}

// NewUserStore creates an empty store using bcrypt.DefaultCost.
func NewUserStore() *UserStore {
	return &UserStore{
		byName: make(map[string]*User),
		byID:   make(map[string]*User),
		cost:   bcrypt.DefaultCost,
	}
}

// Register creates a user. Usernames are unique; email is optional.
func (s *UserStore) Register(username, password, email string) (*User, error) {
	if username == "" || password == "" {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("username and password are required"))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrInternal, fmt.Errorf("failed to hash password: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[username]; exists {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("username %q is taken", username))
	}

	user := &User{
		ID:       uuid.NewString(),
		Username: username,
		Email:    email,
		hash:     hash,
	}
	s.byName[username] = user
	s.byID[user.ID] = user
	return user, nil
}

// Authenticate verifies a username/password pair. Unknown users and wrong
// passwords return the same error.
func (s *UserStore) Authenticate(username, password string) (*User, error) {
	s.mu.RLock()
	user, ok := s.byName[username]
	s.mu.RUnlock()

	if !ok {
		// Burn a comparison so unknown usernames cost the same as wrong
		// passwords.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, errors.NewDomainError(errors.ErrPermissionDenied, fmt.Errorf("invalid credentials"))
	}
	if err := bcrypt.CompareHashAndPassword(user.hash, []byte(password)); err != nil {
		return nil, errors.NewDomainError(errors.ErrPermissionDenied, fmt.Errorf("invalid credentials"))
	}
	return user, nil
}

// Lookup returns the user with the given id.
func (s *UserStore) Lookup(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, errors.NewDomainError(errors.ErrNotFound, fmt.Errorf("user %q not found", id))
	}
	return user, nil
}

// dummyHash is a bcrypt hash of an unguessable value, used to equalize
// timing for unknown usernames.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}()
