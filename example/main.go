package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/amnorman/bifrost"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	// Option 1: Zero-config (SQLite store, bifrost.db in the current
	// directory). Pair it with a FileNotifier so a second process using
	// the same database keeps this one's renewal timing in sync.
	notifier, err := bifrost.NewFileNotifier("bifrost.db", &logger)
	if err != nil {
		log.Fatalf("Failed to create notifier: %v", err)
	}

	b, err := bifrost.New(bifrost.Config{
		BaseURL:  envOr("BIFROST_API_URL", "http://localhost:8000"),
		Notifier: notifier,
		Logger:   &logger,
	})
	if err != nil {
		log.Fatalf("Failed to initialize Bifrost: %v", err)
	}
	defer b.Close()

	// Option 2: Production config (Redis store)
	// Uncomment to use:
	/*
		redisStore, err := store.NewRedisFromConfig(store.RedisConfig{
			Addr: "localhost:6379",
		})
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}

		b, err = bifrost.New(bifrost.Config{
			BaseURL:          "https://api.example.com",
			Store:            redisStore,
			RefreshThreshold: 5 * time.Minute,
			Logger:           &logger,
		})
	*/

	removeListener := b.AddListener(func(event bifrost.Event, session *bifrost.Session) {
		switch event {
		case bifrost.EventRefreshSuccess:
			fmt.Printf("session renewed, valid until %s\n", session.ExpiresAt.Format(time.RFC3339))
		case bifrost.EventRefreshFailed:
			fmt.Println("session renewal failed, please sign in again")
		case bifrost.EventTokenExpired:
			fmt.Println("session expired")
		case bifrost.EventLogout:
			fmt.Println("signed out")
		}
	})
	defer removeListener()

	// An existing session survives process restarts through the store.
	if b.IsAuthenticated() {
		fmt.Printf("already signed in as %s (renewal due in %s)\n",
			b.Principal().Email, b.TimeUntilRefresh().Round(time.Second))
	} else {
		assertion := os.Getenv("BIFROST_ASSERTION")
		if assertion == "" {
			log.Fatal("No session stored and BIFROST_ASSERTION is not set")
		}

		sess, err := b.Login(context.Background(), assertion)
		if err != nil {
			log.Fatalf("Login failed: %v", err)
		}
		fmt.Printf("signed in as %s %s (%s)\n",
			sess.Principal.FirstName, sess.Principal.LastName, sess.Principal.Role)
	}

	// The authorized client attaches the bearer token and transparently
	// refreshes it once on a 401/403.
	resp, err := b.Client().Get(envOr("BIFROST_API_URL", "http://localhost:8000") + "/api/v1/admin/auth/me")
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	fmt.Printf("whoami: %s\n", body)

	if b.Authorize(bifrost.RoleAdmin, bifrost.RoleSuperadmin) {
		users, err := b.Users(context.Background())
		if err != nil {
			log.Fatalf("Failed to list users: %v", err)
		}
		fmt.Printf("%d users registered\n", len(users))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
