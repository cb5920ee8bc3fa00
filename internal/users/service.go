package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates a failed email/password login.
	ErrInvalidCredentials = errors.New("users: invalid email or password")
	// ErrUnknownUser indicates the referenced account does not exist.
	ErrUnknownUser = errors.New("users: unknown user")

	errMissingStore      = errors.New("users: store is required")
	errMissingIDProvider = errors.New("users: id provider is required")
)

// IDProvider issues identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the account directory.
type ServiceConfig struct {
	Store      Store
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service owns the in-memory account directory. State is loaded once on
// startup and every mutation is written through to the store best-effort.
type Service struct {
	mu         sync.RWMutex
	byID       map[string]User
	emailIndex map[string]string

	store      Store
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		byID:       make(map[string]User),
		emailIndex: make(map[string]string),
		store:      cfg.Store,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Load populates the directory from the store.
func (s *Service) Load() error {
	records, err := s.store.LoadUsers()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		s.byID[record.ID] = record
		if !record.Deactivated {
			s.emailIndex[normalizeEmail(record.Email)] = record.ID
		}
	}
	return nil
}

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Email     string
	Password  string
	Name      string
	Age       int
	City      string
	Bio       string
	Interests []string
}

// Register creates an account with a bcrypt password hash.
func (s *Service) Register(input RegisterInput) (User, error) {
	email := normalizeEmail(input.Email)
	if email == "" || normalize(input.Name) == "" || input.Password == "" {
		return User{}, fmt.Errorf("%w: email, password and name are required", ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.emailIndex[email]; taken {
		return User{}, ErrEmailTaken
	}

	account := User{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		Name:         normalize(input.Name),
		Age:          input.Age,
		City:         normalize(input.City),
		Bio:          input.Bio,
		Interests:    append([]string(nil), input.Interests...),
		ShowLocation: true,
		CreatedAt:    s.clock().UTC(),
	}
	s.byID[id] = account
	s.emailIndex[email] = id
	s.persist(account)
	return account, nil
}

// Authenticate verifies an email/password pair.
func (s *Service) Authenticate(email, password string) (User, error) {
	s.mu.RLock()
	id, ok := s.emailIndex[normalizeEmail(email)]
	account := s.byID[id]
	s.mu.RUnlock()
	if !ok || account.Deactivated {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return account, nil
}

// Get returns the account for the given id.
func (s *Service) Get(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.byID[id]
	return account, ok
}

// Exists reports whether an account with the given id is known.
func (s *Service) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// PublicSummary returns the public projection used in event payloads.
func (s *Service) PublicSummary(id string) (Summary, bool) {
	account, ok := s.Get(id)
	if !ok {
		return Summary{}, false
	}
	return account.Summary(), true
}

// List returns all active accounts.
func (s *Service) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]User, 0, len(s.byID))
	for _, account := range s.byID {
		if account.Deactivated {
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts
}

// ProfilePatch carries optional profile updates; nil fields are left unchanged.
type ProfilePatch struct {
	Name      *string
	Age       *int
	City      *string
	Bio       *string
	Interests *[]string
}

// UpdateProfile applies a partial profile update.
func (s *Service) UpdateProfile(id string, patch ProfilePatch) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[id]
	if !ok {
		return User{}, ErrUnknownUser
	}
	if patch.Name != nil && normalize(*patch.Name) != "" {
		account.Name = normalize(*patch.Name)
	}
	if patch.Age != nil {
		account.Age = *patch.Age
	}
	if patch.City != nil {
		account.City = normalize(*patch.City)
	}
	if patch.Bio != nil {
		account.Bio = *patch.Bio
	}
	if patch.Interests != nil {
		account.Interests = append([]string(nil), (*patch.Interests)...)
	}
	s.byID[id] = account
	s.persist(account)
	return account, nil
}

// UpdateLocation stores the user's coordinates and visibility preference.
func (s *Service) UpdateLocation(id string, latitude, longitude float64, show bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[id]
	if !ok {
		return ErrUnknownUser
	}
	account.Latitude = &latitude
	account.Longitude = &longitude
	account.ShowLocation = show
	s.byID[id] = account
	s.persist(account)
	return nil
}

// SetShowLocation toggles location visibility without touching coordinates.
func (s *Service) SetShowLocation(id string, show bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[id]
	if !ok {
		return ErrUnknownUser
	}
	account.ShowLocation = show
	s.byID[id] = account
	s.persist(account)
	return nil
}

// SetPhoto records the profile photo reference.
func (s *Service) SetPhoto(id, photoRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[id]
	if !ok {
		return ErrUnknownUser
	}
	account.PhotoRef = photoRef
	s.byID[id] = account
	s.persist(account)
	return nil
}

// Deactivate anonymizes the account but keeps the row so existing edges and
// messages stay resolvable.
func (s *Service) Deactivate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[id]
	if !ok {
		return ErrUnknownUser
	}
	delete(s.emailIndex, normalizeEmail(account.Email))
	account.Email = "deleted:" + id
	account.Name = "Deleted user"
	account.Bio = ""
	account.Interests = nil
	account.PhotoRef = ""
	account.PasswordHash = ""
	account.Latitude = nil
	account.Longitude = nil
	account.Deactivated = true
	s.byID[id] = account
	s.persist(account)
	return nil
}

// persist writes through to the store; failures are logged and never roll
// back the in-memory change.
func (s *Service) persist(account User) {
	if err := s.store.SaveUser(account); err != nil {
		s.logger.Error("user persist failed", zap.String("user_id", account.ID), zap.Error(err))
	}
}
