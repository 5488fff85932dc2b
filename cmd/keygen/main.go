// Command keygen creates an API key for the trigger or admin endpoints and
// prints the raw key once. Only the bcrypt hash is stored.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/facematch/internal/config"
	"github.com/kiranshivaraju/facematch/internal/store"
	"github.com/kiranshivaraju/facematch/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// keyPrefix is the visible part of every raw key. Together with the first
// random characters it forms the 8-char lookup prefix the auth middleware uses.
const keyPrefix = "fm_"

var validScopes = map[string]bool{
	models.ScopeTrigger: true,
	models.ScopeAdmin:   true,
}

func main() {
	_ = godotenv.Load()

	name := flag.String("name", "", "Key name (required)")
	scopes := flag.String("scopes", models.ScopeTrigger, "Comma-separated scopes: trigger, admin")
	databaseURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL")
	flag.Parse()

	if err := run(*name, *scopes, *databaseURL, os.Stdout); err != nil {
		slog.Error("keygen failed", "error", err)
		os.Exit(1)
	}
}

func run(name, scopeList, databaseURL string, out io.Writer) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("-name is required")
	}
	scopes, err := parseScopes(scopeList)
	if err != nil {
		return err
	}
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL or -database-url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL:             databaseURL,
		MaxOpenConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	rawKey, key, err := newAPIKey(name, scopes)
	if err != nil {
		return err
	}

	if err := store.NewPostgresStore(pool).CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Fprintf(out, "id:     %s\nname:   %s\nscopes: %s\nkey:    %s\n",
		key.ID, key.Name, strings.Join(key.Scopes, ","), rawKey)
	fmt.Fprintln(out, "Store the key now; it cannot be shown again.")
	return nil
}

func parseScopes(list string) ([]string, error) {
	var scopes []string
	seen := make(map[string]bool)
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		if !validScopes[s] {
			return nil, fmt.Errorf("unknown scope %q", s)
		}
		seen[s] = true
		scopes = append(scopes, s)
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}
	return scopes, nil
}

// newAPIKey returns the raw key and the record to persist for it.
func newAPIKey(name string, scopes []string) (string, *models.APIKey, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	rawKey := keyPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash key: %w", err)
	}

	now := time.Now().UTC()
	return rawKey, &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:8],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
