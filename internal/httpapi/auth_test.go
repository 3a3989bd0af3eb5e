package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"opsledger/backend/internal/apperror"
	"opsledger/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store, nil)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
	if store.updates != 1 {
		t.Fatalf("expected one password upgrade, got %d", store.updates)
	}
}

func TestCreateStaffStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{}
	manager := NewAuthManager("test-secret", time.Hour, store, nil)

	staff, err := manager.CreateStaff(context.Background(), domain.StaffCreateRequest{
		Username: " Sari ",
		Password: "pass12345",
	})
	if err != nil {
		t.Fatalf("create staff failed: %v", err)
	}
	if staff.Username != "sari" || staff.Role != domain.RoleStaff {
		t.Fatalf("unexpected staff %+v", staff)
	}

	saved, ok := store.users["sari"]
	if !ok {
		t.Fatalf("expected staff to be saved")
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "SARI", Password: "pass12345"}); err != nil {
		t.Fatalf("login with new staff failed: %v", err)
	}

	listed := manager.ListStaff(context.Background())
	if len(listed) != 1 || listed[0].Username != "sari" {
		t.Fatalf("unexpected staff list %+v", listed)
	}
}

func TestCreateStaffValidation(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &userStoreStub{}, nil)
	if _, err := manager.CreateStaff(context.Background(), domain.StaffCreateRequest{Username: "dewi", Password: "pass12345"}); err != nil {
		t.Fatalf("create staff failed: %v", err)
	}

	tests := []struct {
		name string
		req  domain.StaffCreateRequest
	}{
		{name: "short username", req: domain.StaffCreateRequest{Username: "abc", Password: "pass12345"}},
		{name: "username with space", req: domain.StaffCreateRequest{Username: "ab cd", Password: "pass12345"}},
		{name: "short password", req: domain.StaffCreateRequest{Username: "budi", Password: "short"}},
		{name: "duplicate", req: domain.StaffCreateRequest{Username: "dewi", Password: "pass12345"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := manager.CreateStaff(context.Background(), tc.req)
			if !apperror.IsKind(err, apperror.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestEnsureAdminKeepsExistingPassword(t *testing.T) {
	store := &userStoreStub{}
	manager := NewAuthManager("test-secret", time.Hour, store, nil)
	ctx := context.Background()

	if err := manager.EnsureAdmin(ctx, "admin", "first-password"); err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}
	if err := manager.EnsureAdmin(ctx, "admin", "second-password"); err != nil {
		t.Fatalf("second ensure admin failed: %v", err)
	}
	if len(store.users) != 1 {
		t.Fatalf("expected a single account, got %d", len(store.users))
	}
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "first-password"}); err != nil {
		t.Fatalf("expected the first password to keep working: %v", err)
	}
	if err := manager.EnsureAdmin(ctx, "", "x"); err == nil {
		t.Fatalf("expected error for blank username")
	}
}

func TestInactiveAccountCannotLogin(t *testing.T) {
	hash, err := hashPassword("pass12345")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"rudi": {Username: "rudi", Password: hash, Role: domain.RoleStaff, Active: false},
	}}
	manager := NewAuthManager("test-secret", time.Hour, store, nil)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "rudi", Password: "pass12345"})
	if err != errInactiveAccount {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthManager("secret-one", time.Hour, nil, nil)
	verifier := NewAuthManager("secret-two", time.Hour, nil, nil)

	token, err := issuer.sign("admin", domain.RoleAdmin, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	actor, err := issuer.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}

	expired, _ := issuer.sign("admin", domain.RoleAdmin, time.Now().Add(-time.Minute))
	if _, err := issuer.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
