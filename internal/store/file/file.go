// Package file implements file-based storage using JSON files.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tendant/simple-sso/internal/domain"
	ssoerrors "github.com/tendant/simple-sso/internal/errors"
	"github.com/tendant/simple-sso/internal/store"
)

// Store implements store.Store using JSON files for persistence.
//
// Reads take the lock shared; every mutation holds the write lock across
// its whole load-modify-save cycle, so concurrent writers cannot overwrite
// each other's rows.
type Store struct {
	dataDir string
	mu      sync.RWMutex

	keys     *keyRepository
	services *serviceRepository
	users    *userRepository
	csrfs    *csrfRepository
	audits   *auditRepository
}

// Option configures the Store.
type Option func(*Store)

// NewStore creates a new file-based store.
func NewStore(dataDir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		dataDir: dataDir,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.keys = &keyRepository{store: s}
	s.services = &serviceRepository{store: s}
	s.users = &userRepository{store: s}
	s.csrfs = &csrfRepository{store: s}
	s.audits = &auditRepository{store: s}

	return s, nil
}

func (s *Store) Keys() store.KeyRepository         { return s.keys }
func (s *Store) Services() store.ServiceRepository { return s.services }
func (s *Store) Users() store.UserRepository       { return s.users }
func (s *Store) Csrfs() store.CsrfRepository       { return s.csrfs }
func (s *Store) Audits() store.AuditRepository     { return s.audits }
func (s *Store) Close() error                      { return nil }

// Helper methods for file operations

func (s *Store) filePath(name string) string {
	return filepath.Join(s.dataDir, name+".json")
}

// readFileLocked reads without taking the store lock; callers must hold it.
func (s *Store) readFileLocked(name string, v any) error {
	data, err := os.ReadFile(s.filePath(name))
	if os.IsNotExist(err) {
		return nil // Empty collection
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeFileLocked writes without taking the store lock; callers must hold it.
func (s *Store) writeFileLocked(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath(name), data, 0600)
}

func (s *Store) readFile(name string, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readFileLocked(name, v)
}

// Key Repository

type keyRepository struct {
	store *Store
}

type keysData struct {
	Keys []*domain.Key `json:"keys"`
}

func (r *keyRepository) load() (*keysData, error) {
	var data keysData
	if err := r.store.readFile("keys", &data); err != nil {
		return nil, err
	}
	if data.Keys == nil {
		data.Keys = []*domain.Key{}
	}
	return &data, nil
}

func (r *keyRepository) loadLocked() (*keysData, error) {
	var data keysData
	if err := r.store.readFileLocked("keys", &data); err != nil {
		return nil, err
	}
	if data.Keys == nil {
		data.Keys = []*domain.Key{}
	}
	return &data, nil
}

func (r *keyRepository) saveLocked(data *keysData) error {
	return r.store.writeFileLocked("keys", data)
}

func (r *keyRepository) Create(ctx context.Context, key *domain.Key) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.loadLocked()
	if err != nil {
		return ssoerrors.Internal("failed to load keys", err)
	}

	for _, k := range data.Keys {
		if k.ID == key.ID {
			return ssoerrors.Internal("key id collision", nil)
		}
		if k.Value == key.Value {
			return ssoerrors.Internal("key value collision", nil)
		}
	}

	now := time.Now()
	key.CreatedAt = now
	key.UpdatedAt = now
	data.Keys = append(data.Keys, key)

	return r.saveLocked(data)
}

func (r *keyRepository) GetByID(ctx context.Context, id string) (*domain.Key, error) {
	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load keys", err)
	}

	for _, k := range data.Keys {
		if k.ID == id {
			return k, nil
		}
	}
	return nil, ssoerrors.NotFound("key", id)
}

func (r *keyRepository) GetByValue(ctx context.Context, value string, typ domain.KeyType) (*domain.Key, error) {
	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load keys", err)
	}

	for _, k := range data.Keys {
		if k.Value == value && k.Type == typ {
			return k, nil
		}
	}
	return nil, ssoerrors.NotFound("key", string(typ))
}

func (r *keyRepository) GetUserKey(ctx context.Context, serviceID, userID string, typ domain.KeyType) (*domain.Key, error) {
	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load keys", err)
	}

	// Prefer a usable key; rotation leaves revoked siblings behind.
	var first *domain.Key
	for _, k := range data.Keys {
		if k.ServiceID == serviceID && k.UserID == userID && k.Type == typ {
			if k.Usable() {
				return k, nil
			}
			if first == nil {
				first = k
			}
		}
	}
	if first != nil {
		return first, nil
	}
	return nil, ssoerrors.NotFound("user key", userID)
}

// Update replaces the stored row. Load and save happen under one write
// lock; a revoke flip must never be lost to a concurrent writer.
func (r *keyRepository) Update(ctx context.Context, key *domain.Key) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.loadLocked()
	if err != nil {
		return ssoerrors.Internal("failed to load keys", err)
	}

	for i, k := range data.Keys {
		if k.ID == key.ID {
			key.UpdatedAt = time.Now()
			data.Keys[i] = key
			return r.saveLocked(data)
		}
	}
	return ssoerrors.NotFound("key", key.ID)
}

func (r *keyRepository) List(ctx context.Context) ([]*domain.Key, error) {
	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load keys", err)
	}
	return data.Keys, nil
}

// Service Repository

type serviceRepository struct {
	store *Store
}

type servicesData struct {
	Services []*domain.Service `json:"services"`
}

func (r *serviceRepository) load() (*servicesData, error) {
	var data servicesData
	if err := r.store.readFile("services", &data); err != nil {
		return nil, err
	}
	if data.Services == nil {
		data.Services = []*domain.Service{}
	}
	return &data, nil
}

func (r *serviceRepository) loadLocked() (*servicesData, error) {
	var data servicesData
	if err := r.store.readFileLocked("services", &data); err != nil {
		return nil, err
	}
	if data.Services == nil {
		data.Services = []*domain.Service{}
	}
	return &data, nil
}

func (r *serviceRepository) saveLocked(data *servicesData) error {
	return r.store.writeFileLocked("services", data)
}

func (r *serviceRepository) Create(ctx context.Context, service *domain.Service) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.loadLocked()
	if err != nil {
		return ssoerrors.Internal("failed to load services", err)
	}

	for _, s := range data.Services {
		if s.ID == service.ID {
			return ssoerrors.Internal("service id collision", nil)
		}
	}

	now := time.Now()
	service.CreatedAt = now
	service.UpdatedAt = now
	data.Services = append(data.Services, service)

	return r.saveLocked(data)
}

func (r *serviceRepository) GetByID(ctx context.Context, id string) (*domain.Service, error) {
	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load services", err)
	}

	for _, s := range data.Services {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, ssoerrors.NotFound("service", id)
}

func (r *serviceRepository) Update(ctx context.Context, service *domain.Service) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.loadLocked()
	if err != nil {
		return ssoerrors.Internal("failed to load services", err)
	}

	for i, s := range data.Services {
		if s.ID == service.ID {
			service.UpdatedAt = time.Now()
			data.Services[i] = service
			return r.saveLocked(data)
		}
	}
	return ssoerrors.NotFound("service", service.ID)
}

func (r *serviceRepository) List(ctx context.Context) ([]*domain.Service, error) {
	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load services", err)
	}
	return data.Services, nil
}

// User Repository

type userRepository struct {
	store *Store
}

type usersData struct {
	Users []*domain.User `json:"users"`
}

func (r *userRepository) load() (*usersData, error) {
	var data usersData
	if err := r.store.readFile("users", &data); err != nil {
		return nil, err
	}
	if data.Users == nil {
		data.Users = []*domain.User{}
	}
	return &data, nil
}

func (r *userRepository) loadLocked() (*usersData, error) {
	var data usersData
	if err := r.store.readFileLocked("users", &data); err != nil {
		return nil, err
	}
	if data.Users == nil {
		data.Users = []*domain.User{}
	}
	return &data, nil
}

func (r *userRepository) saveLocked(data *usersData) error {
	return r.store.writeFileLocked("users", data)
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.loadLocked()
	if err != nil {
		return ssoerrors.Internal("failed to load users", err)
	}

	for _, u := range data.Users {
		if u.ID == user.ID {
			return ssoerrors.Internal("user id collision", nil)
		}
		if u.Email == user.Email {
			return ssoerrors.Internal("user email collision", nil)
		}
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	data.Users = append(data.Users, user)

	return r.saveLocked(data)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load users", err)
	}

	for _, u := range data.Users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ssoerrors.NotFound("user", id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load users", err)
	}

	for _, u := range data.Users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, ssoerrors.NotFound("user with email", email)
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.loadLocked()
	if err != nil {
		return ssoerrors.Internal("failed to load users", err)
	}

	for i, u := range data.Users {
		if u.ID == user.ID {
			user.UpdatedAt = time.Now()
			data.Users[i] = user
			return r.saveLocked(data)
		}
	}
	return ssoerrors.NotFound("user", user.ID)
}

func (r *userRepository) List(ctx context.Context) ([]*domain.User, error) {
	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load users", err)
	}
	return data.Users, nil
}

// Csrf Repository

type csrfRepository struct {
	store *Store
}

type csrfsData struct {
	Csrfs []*domain.Csrf `json:"csrfs"`
}

func (r *csrfRepository) loadLocked() (*csrfsData, error) {
	var data csrfsData
	if err := r.store.readFileLocked("csrfs", &data); err != nil {
		return nil, err
	}
	if data.Csrfs == nil {
		data.Csrfs = []*domain.Csrf{}
	}
	return &data, nil
}

func (r *csrfRepository) saveLocked(data *csrfsData) error {
	return r.store.writeFileLocked("csrfs", data)
}

func (r *csrfRepository) Create(ctx context.Context, csrf *domain.Csrf) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.loadLocked()
	if err != nil {
		return ssoerrors.Internal("failed to load csrf tokens", err)
	}

	for _, c := range data.Csrfs {
		if c.Key == csrf.Key {
			return ssoerrors.Internal("csrf key collision", nil)
		}
	}

	csrf.CreatedAt = time.Now()
	data.Csrfs = append(data.Csrfs, csrf)

	return r.saveLocked(data)
}

// ReadAndDelete consumes the row for key. The read and the delete happen
// under the store's write lock, so two concurrent calls cannot both succeed.
func (r *csrfRepository) ReadAndDelete(ctx context.Context, key string) (*domain.Csrf, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.loadLocked()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load csrf tokens", err)
	}

	for i, c := range data.Csrfs {
		if c.Key == key {
			data.Csrfs = append(data.Csrfs[:i], data.Csrfs[i+1:]...)
			if err := r.saveLocked(data); err != nil {
				return nil, ssoerrors.Internal("failed to consume csrf token", err)
			}
			return c, nil
		}
	}
	return nil, ssoerrors.NotFound("csrf token", key)
}

func (r *csrfRepository) DeleteExpired(ctx context.Context, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.loadLocked()
	if err != nil {
		return ssoerrors.Internal("failed to load csrf tokens", err)
	}

	kept := data.Csrfs[:0]
	removed := false
	for _, c := range data.Csrfs {
		if c.IsExpired(now) {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	if !removed {
		return nil
	}

	data.Csrfs = kept
	return r.saveLocked(data)
}

// Audit Repository

type auditRepository struct {
	store *Store
}

type auditsData struct {
	Audits []*domain.Audit `json:"audits"`
}

func (r *auditRepository) load() (*auditsData, error) {
	var data auditsData
	if err := r.store.readFile("audits", &data); err != nil {
		return nil, err
	}
	if data.Audits == nil {
		data.Audits = []*domain.Audit{}
	}
	return &data, nil
}

func (r *auditRepository) loadLocked() (*auditsData, error) {
	var data auditsData
	if err := r.store.readFileLocked("audits", &data); err != nil {
		return nil, err
	}
	if data.Audits == nil {
		data.Audits = []*domain.Audit{}
	}
	return &data, nil
}

func (r *auditRepository) saveLocked(data *auditsData) error {
	return r.store.writeFileLocked("audits", data)
}

// Create appends one audit row. Audit rows are never updated or deleted,
// and concurrent appends must not drop each other.
func (r *auditRepository) Create(ctx context.Context, audit *domain.Audit) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.loadLocked()
	if err != nil {
		return ssoerrors.Internal("failed to load audits", err)
	}

	audit.CreatedAt = time.Now()
	data.Audits = append(data.Audits, audit)

	return r.saveLocked(data)
}

func (r *auditRepository) List(ctx context.Context) ([]*domain.Audit, error) {
	data, err := r.load()
	if err != nil {
		return nil, ssoerrors.Internal("failed to load audits", err)
	}
	return data.Audits, nil
}
