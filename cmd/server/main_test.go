package main

import (
	"context"
	"testing"

	"opsledger/backend/internal/config"
	"opsledger/backend/internal/logger"
	"opsledger/backend/internal/store"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	tests := map[string]config.Config{
		"short secret":      {AuthSecret: "short", AdminUsername: "admin", AdminPassword: "k7#Rm2!vQp9z"},
		"short password":    {AuthSecret: strongSecret, AdminUsername: "admin", AdminPassword: "abc"},
		"common password":   {AuthSecret: strongSecret, AdminUsername: "admin", AdminPassword: "Password1234"},
		"repeated char":     {AuthSecret: strongSecret, AdminUsername: "admin", AdminPassword: "aaaaaaaaaaaa"},
		"contains username": {AuthSecret: strongSecret, AdminUsername: "owner", AdminPassword: "my-Owner-pass"},
		"no username":       {AuthSecret: strongSecret, AdminPassword: "k7#Rm2!vQp9z"},
	}
	for name, cfg := range tests {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("%s: expected weak security config to be rejected", name)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: strongSecret, AdminUsername: "admin", AdminPassword: "k7#Rm2!vQp9z"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestOpenStoreMemory(t *testing.T) {
	ctx := context.Background()

	s, closers, err := openStore(ctx, config.Config{StoreDriver: config.DriverMemory, SeedDemoData: true}, logger.Nop())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	if len(closers) != 0 {
		t.Fatalf("expected no closers for the memory store, got %d", len(closers))
	}
	receipts, err := s.ListAll(ctx, store.CollectionStockIn)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(receipts) == 0 {
		t.Fatalf("expected seeded stock receipts")
	}

	empty, _, err := openStore(ctx, config.Config{StoreDriver: config.DriverMemory}, logger.Nop())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	if all, _ := empty.ListAll(ctx, store.CollectionStockIn); len(all) != 0 {
		t.Fatalf("expected an empty store without seeding")
	}
}

func TestOpenStorePostgresRequiresURL(t *testing.T) {
	if _, _, err := openStore(context.Background(), config.Config{StoreDriver: config.DriverPostgres}, logger.Nop()); err == nil {
		t.Fatalf("expected an error without DATABASE_URL")
	}
}
