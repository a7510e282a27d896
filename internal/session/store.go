package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"storefront-live/internal/apperr"
	"storefront-live/internal/httpclient"
	"storefront-live/internal/logging"
	"storefront-live/internal/model"
)

type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseLoading
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

type Paths struct {
	Login          string
	Logout         string
	Profile        string
	Register       string
	RegisterSeller string
}

func DefaultPaths() Paths {
	return Paths{
		Login:          "/login",
		Logout:         "/logout",
		Profile:        "/profile",
		Register:       "/register",
		RegisterSeller: "/register-seller",
	}
}

// PendingVerificationCode is the error code the auth service returns for
// seller accounts that are not approved yet.
const PendingVerificationCode = "PENDING_VERIFICATION"

type Requester interface {
	Request(ctx context.Context, method, path string, body any, opts ...httpclient.CallOption) (*httpclient.Response, error)
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegistrationData struct {
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	Password     string     `json:"password"`
	Role         model.Role `json:"role,omitempty"`
	BusinessName string     `json:"businessName,omitempty"`
	Phone        string     `json:"phone,omitempty"`
}

type RegistrationError struct {
	Message string
	Fields  map[string]string
	Err     error
}

func (e *RegistrationError) Error() string {
	if e.Message != "" {
		return "registration failed: " + e.Message
	}
	return fmt.Sprintf("registration failed: %v", e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Snapshot is what UI consumers read.
type Snapshot struct {
	Phase           Phase
	Identity        *model.Identity
	Loading         bool
	IsAuthenticated bool
}

type Options struct {
	Paths  Paths
	Flags  FlagStore
	Nav    Navigator
	Logger *slog.Logger
}

// Store owns the session identity. Nothing else writes it.
type Store struct {
	api    Requester
	paths  Paths
	flags  FlagStore
	nav    Navigator
	logger *slog.Logger

	bootOnce sync.Once

	// notifyMu serialises mutation+dispatch so listeners see changes in order.
	// Listeners must not call back into mutating methods.
	notifyMu  sync.Mutex
	mu        sync.RWMutex
	phase     Phase
	identity  *model.Identity
	listeners map[int]func(Snapshot)
	nextID    int
}

func New(api Requester, opts Options) *Store {
	s := &Store{
		api:       api,
		paths:     opts.Paths,
		flags:     opts.Flags,
		nav:       opts.Nav,
		logger:    logging.OrDiscard(opts.Logger),
		listeners: make(map[int]func(Snapshot)),
	}
	if s.paths == (Paths{}) {
		s.paths = DefaultPaths()
	}
	if s.flags == nil {
		s.flags = &MemoryFlag{}
	}
	if s.nav == nil {
		s.nav = nopNavigator{}
	}
	return s
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	var id *model.Identity
	if s.identity != nil {
		cp := *s.identity
		id = &cp
	}
	return Snapshot{
		Phase:           s.phase,
		Identity:        id,
		Loading:         s.phase != PhaseReady,
		IsAuthenticated: id != nil,
	}
}

func (s *Store) Phase() Phase { return s.Snapshot().Phase }

func (s *Store) Identity() *model.Identity { return s.Snapshot().Identity }

func (s *Store) IsAuthenticated() bool { return s.Snapshot().IsAuthenticated }

func (s *Store) Loading() bool { return s.Snapshot().Loading }

// OnChange registers a listener called after every state change. The returned
// func unregisters it.
func (s *Store) OnChange(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// update is the single mutation entry point for phase and identity.
func (s *Store) update(fn func()) Snapshot {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if l, ok := s.listeners[i]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
	return snap
}

func (s *Store) setIdentity(id *model.Identity) {
	s.update(func() {
		s.identity = id
		s.phase = PhaseReady
	})
}

// Boot runs the boot sequence at most once per Store.
func (s *Store) Boot(ctx context.Context) {
	s.bootOnce.Do(func() { s.boot(ctx) })
}

func (s *Store) boot(ctx context.Context) {
	s.update(func() { s.phase = PhaseLoading })

	skip, err := s.flags.Consume()
	if err != nil {
		s.logger.Warn("read logout flag", "err", err)
	}
	if skip {
		s.logger.Info("skipping profile probe after logout")
		s.setIdentity(nil)
		return
	}

	id, err := s.probe(ctx)
	if err != nil {
		s.logger.Debug("profile probe found no session", "err", err)
	}
	s.setIdentity(id)
}

type userEnvelope struct {
	User *model.Identity `json:"user"`
}

func (s *Store) probe(ctx context.Context) (*model.Identity, error) {
	resp, err := s.api.Request(ctx, http.MethodGet, s.paths.Profile, nil)
	if err != nil {
		return nil, err
	}
	var env userEnvelope
	if err := resp.Decode(&env); err != nil {
		return nil, err
	}
	if env.User == nil {
		return nil, errors.New("profile response has no user")
	}
	return env.User, nil
}

// RefreshProfile re-reads the identity from the profile service.
func (s *Store) RefreshProfile(ctx context.Context) error {
	id, err := s.probe(ctx)
	if err != nil {
		return err
	}
	s.setIdentity(id)
	return nil
}

func (s *Store) Login(ctx context.Context, creds Credentials) (model.Identity, error) {
	resp, err := s.api.Request(ctx, http.MethodPost, s.paths.Login, creds)
	if err != nil {
		return model.Identity{}, classifyLoginError(err)
	}
	var env userEnvelope
	if err := resp.Decode(&env); err != nil {
		return model.Identity{}, err
	}
	if env.User == nil {
		return model.Identity{}, errors.New("login response has no user")
	}

	// A stale logout marker would make the next boot forget this login.
	if _, err := s.flags.Consume(); err != nil {
		s.logger.Warn("clear logout flag", "err", err)
	}
	id := *env.User
	s.setIdentity(&id)
	s.logger.Info("logged in", "user", id.ID, "role", id.Role)
	return id, nil
}

func classifyLoginError(err error) error {
	var he *httpclient.HTTPError
	if !errors.As(err, &he) || he.Kind != httpclient.KindStatus {
		return err
	}
	if he.ServerCode() == PendingVerificationCode ||
		(he.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(he.ServerMessage()), "pending")) {
		return apperr.NewAuthError(apperr.AuthPendingVerification, err)
	}
	switch he.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound:
		return apperr.NewAuthError(apperr.AuthInvalidCredentials, err)
	}
	return err
}

// Logout never fails; the server call is best-effort.
func (s *Store) Logout(ctx context.Context) {
	if err := s.flags.Set(); err != nil {
		s.logger.Warn("set logout flag", "err", err)
	}
	if _, err := s.api.Request(ctx, http.MethodPost, s.paths.Logout, nil); err != nil {
		s.logger.Warn("logout request failed", "err", err)
	}
	s.setIdentity(nil)
	s.nav.Navigate(model.DestLanding)
}

func (s *Store) Register(ctx context.Context, data RegistrationData) error {
	path := s.paths.Register
	if data.Role == model.RoleSeller {
		path = s.paths.RegisterSeller
	}
	if _, err := s.api.Request(ctx, http.MethodPost, path, data); err != nil {
		return newRegistrationError(err)
	}
	return nil
}

func newRegistrationError(err error) error {
	re := &RegistrationError{Err: err}
	var he *httpclient.HTTPError
	if errors.As(err, &he) && he.Kind == httpclient.KindStatus {
		re.Message = he.ServerMessage()
		re.Fields = fieldErrors(he.Body)
	}
	return re
}

// RedirectToDashboard navigates to the current identity's landing page.
func (s *Store) RedirectToDashboard() model.Destination {
	dest := Dashboard(s.Identity())
	s.nav.Navigate(dest)
	return dest
}

// Restore replaces the identity wholesale after a successful refresh.
func (s *Store) Restore(identity model.Identity) {
	s.setIdentity(&identity)
}

// Expire clears the identity after an unrecoverable refresh failure. The
// session-expired signal is only raised for a session that existed.
func (s *Store) Expire() {
	var had bool
	s.update(func() {
		had = s.identity != nil
		s.identity = nil
		if s.phase == PhaseLoading {
			return
		}
		s.phase = PhaseReady
	})
	if had {
		s.logger.Info("session expired")
		s.nav.Navigate(model.DestSessionExpired)
	}
}
