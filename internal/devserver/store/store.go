package store

import (
	"encoding/json"
	"errors"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"storefront-live/internal/auth"
	"storefront-live/internal/model"
)

const minPasswordLength = 6

type Account struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	Role         model.Role `json:"role"`
	PasswordHash string     `json:"passwordHash"`
	IsActive     bool       `json:"isActive"`
	IsVerified   bool       `json:"isVerified"`
	BusinessName string     `json:"businessName,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	CreatedAt    int64      `json:"createdAt"`
}

func (a Account) Identity() model.Identity {
	return model.Identity{
		ID:         a.ID,
		Username:   a.Username,
		Email:      a.Email,
		Role:       a.Role,
		IsActive:   a.IsActive,
		IsVerified: a.IsVerified,
	}
}

type Registration struct {
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	Password     string     `json:"password"`
	Role         model.Role `json:"role"`
	BusinessName string     `json:"businessName"`
	Phone        string     `json:"phone"`
}

type Store struct {
	mu sync.RWMutex

	stateFile string
	persistMu sync.Mutex
	cost      int

	accountsByID map[string]Account
	idByEmail    map[string]string
	revoked      map[string]time.Time
}

type Options struct {
	StateFile  string
	BcryptCost int
}

func New() *Store {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Store {
	s := &Store{
		stateFile:    opts.StateFile,
		cost:         opts.BcryptCost,
		accountsByID: make(map[string]Account),
		idByEmail:    make(map[string]string),
		revoked:      make(map[string]time.Time),
	}
	if s.stateFile != "" {
		if err := s.loadFromFile(s.stateFile); err != nil {
			log.Printf("accounts persistence: load failed (%s): %v", s.stateFile, err)
		}
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validate(reg Registration) error {
	if strings.TrimSpace(reg.Username) == "" {
		return ErrUsernameRequired
	}
	if strings.TrimSpace(reg.Email) == "" {
		return ErrEmailRequired
	}
	if _, err := mail.ParseAddress(reg.Email); err != nil {
		return ErrInvalidEmail
	}
	if len(reg.Password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	if !reg.Role.Valid() {
		return ErrInvalidRole
	}
	if reg.Role == model.RoleSeller && strings.TrimSpace(reg.BusinessName) == "" {
		return ErrBusinessNameMissing
	}
	return nil
}

// CreateAccount registers a new account. Sellers start unverified.
func (s *Store) CreateAccount(reg Registration) (Account, error) {
	if reg.Role == "" {
		reg.Role = model.RoleUser
	}
	if err := validate(reg); err != nil {
		return Account{}, err
	}
	hash, err := auth.HashPassword(reg.Password, s.cost)
	if err != nil {
		return Account{}, err
	}

	email := normalizeEmail(reg.Email)
	s.mu.Lock()
	if _, exists := s.idByEmail[email]; exists {
		s.mu.Unlock()
		return Account{}, ErrUserExists
	}
	acc := Account{
		ID:           uuid.NewString(),
		Username:     strings.TrimSpace(reg.Username),
		Email:        email,
		Role:         reg.Role,
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   reg.Role != model.RoleSeller,
		BusinessName: reg.BusinessName,
		Phone:        reg.Phone,
		CreatedAt:    time.Now().UnixMilli(),
	}
	s.accountsByID[acc.ID] = acc
	s.idByEmail[email] = acc.ID
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persistSnapshot(snapshot)
	return acc, nil
}

func (s *Store) Authenticate(email, password string) (Account, error) {
	s.mu.RLock()
	id, ok := s.idByEmail[normalizeEmail(email)]
	acc := s.accountsByID[id]
	s.mu.RUnlock()

	if !ok || !auth.CheckPassword(acc.PasswordHash, password) {
		return Account{}, ErrInvalidCredentials
	}
	if !acc.IsActive {
		return Account{}, ErrAccountDisabled
	}
	if acc.Role == model.RoleSeller && !acc.IsVerified {
		return Account{}, ErrPendingVerification
	}
	return acc, nil
}

func (s *Store) Get(id string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accountsByID[id]
	return acc, ok
}

func (s *Store) GetByEmail(email string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idByEmail[normalizeEmail(email)]
	if !ok {
		return Account{}, false
	}
	return s.accountsByID[id], true
}

// VerifySeller approves a pending seller account.
func (s *Store) VerifySeller(id string) (Account, error) {
	s.mu.Lock()
	acc, ok := s.accountsByID[id]
	if !ok {
		s.mu.Unlock()
		return Account{}, ErrUserNotFound
	}
	if acc.Role != model.RoleSeller {
		s.mu.Unlock()
		return Account{}, ErrNotSeller
	}
	acc.IsVerified = true
	s.accountsByID[id] = acc
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persistSnapshot(snapshot)
	return acc, nil
}

func (s *Store) SetActive(id string, active bool) (Account, error) {
	s.mu.Lock()
	acc, ok := s.accountsByID[id]
	if !ok {
		s.mu.Unlock()
		return Account{}, ErrUserNotFound
	}
	acc.IsActive = active
	s.accountsByID[id] = acc
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persistSnapshot(snapshot)
	return acc, nil
}

// RevokeToken blocks a token id until it would have expired anyway.
func (s *Store) RevokeToken(jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, id)
		}
	}
	s.revoked[jti] = expiresAt
}

func (s *Store) IsRevoked(jti string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[jti]
	return ok
}

func (s *Store) List() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []Account {
	result := make([]Account, 0, len(s.accountsByID))
	for _, a := range s.accountsByID {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt || (result[i].CreatedAt == result[j].CreatedAt && result[i].ID < result[j].ID)
	})
	return result
}

type persistedAccountsFile struct {
	Version  int       `json:"version"`
	Accounts []Account `json:"accounts"`
	SavedAt  int64     `json:"savedAt"`
}

func (s *Store) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedAccountsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported accounts state version")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range file.Accounts {
		if a.ID == "" || a.Email == "" {
			continue
		}
		s.accountsByID[a.ID] = a
		s.idByEmail[normalizeEmail(a.Email)] = a.ID
	}
	return nil
}

func (s *Store) persistSnapshot(accounts []Account) {
	path := s.stateFile
	if path == "" {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Printf("accounts persistence: mkdir failed (%s): %v", dir, err)
		return
	}

	file := persistedAccountsFile{Version: 1, Accounts: accounts, SavedAt: time.Now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		log.Printf("accounts persistence: marshal failed: %v", err)
		return
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		log.Printf("accounts persistence: create temp failed: %v", err)
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		log.Printf("accounts persistence: chmod temp failed: %v", err)
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		log.Printf("accounts persistence: write temp failed: %v", err)
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		log.Printf("accounts persistence: sync temp failed: %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		log.Printf("accounts persistence: close temp failed: %v", err)
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		log.Printf("accounts persistence: rename failed: %v", err)
	}
}
