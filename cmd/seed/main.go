// Package main provides a utility to seed development data: the initial
// root key, a demo service with keys, and a demo user.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/tendant/simple-sso/internal/auth"
	"github.com/tendant/simple-sso/internal/domain"
	"github.com/tendant/simple-sso/internal/store/file"
)

func main() {
	dataDir := flag.String("data-dir", "./data", "Data directory")
	flag.Parse()

	store, err := file.NewStore(*dataDir)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	// Root key: without it no caller can mint the first credential.
	rootKey, err := auth.NewKey(domain.KeyTypeRoot, "bootstrap root", "", "")
	if err != nil {
		log.Fatalf("Failed to generate root key: %v", err)
	}
	if err := store.Keys().Create(ctx, rootKey); err != nil {
		fmt.Printf("Root key may already exist: %v\n", err)
	} else {
		fmt.Printf("Created root key: %s\n", rootKey.Value)
	}

	// Demo service
	service := &domain.Service{
		ID:                "demo-service",
		Name:              "Demo Service",
		URL:               "http://localhost:3000",
		IsEnabled:         true,
		LocalCallbackURL:  "http://localhost:3000/callback",
		GithubCallbackURL: "http://localhost:3000/oauth2/github/callback",
	}
	if err := store.Services().Create(ctx, service); err != nil {
		fmt.Printf("Service may already exist: %v\n", err)
	} else {
		fmt.Printf("Created service: %s\n", service.ID)
	}

	serviceKey, err := auth.NewKey(domain.KeyTypeService, "demo service key", service.ID, "")
	if err != nil {
		log.Fatalf("Failed to generate service key: %v", err)
	}
	if err := store.Keys().Create(ctx, serviceKey); err != nil {
		fmt.Printf("Service key may already exist: %v\n", err)
	} else {
		fmt.Printf("Created service key: %s\n", serviceKey.Value)
	}

	// Demo user with password and token key
	password := "password123"
	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        "test@example.com",
		PasswordHash: hash,
		Locale:       "en",
		Timezone:     "UTC",
		IsEnabled:    true,
	}
	if err := store.Users().Create(ctx, user); err != nil {
		fmt.Printf("User may already exist: %v\n", err)
	} else {
		fmt.Printf("Created user: %s (password: %s)\n", user.Email, password)
	}

	userKey, err := auth.NewKey(domain.KeyTypeToken, "demo user token key", service.ID, user.ID)
	if err != nil {
		log.Fatalf("Failed to generate user key: %v", err)
	}
	if err := store.Keys().Create(ctx, userKey); err != nil {
		fmt.Printf("User key may already exist: %v\n", err)
	} else {
		fmt.Printf("Created user token key: %s\n", userKey.ID)
	}

	fmt.Println("\nSeed data created successfully!")
	fmt.Println("\nTest with:")
	fmt.Println("  1. Start server: go run ./cmd/sso")
	fmt.Printf("  2. Login: curl -X POST -H 'X-Service-Key: %s' -d '{\"email\":\"test@example.com\",\"password\":\"password123\"}' http://localhost:8080/login\n", serviceKey.Value)

	os.Exit(0)
}
