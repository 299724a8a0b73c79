// Command devkey provisions an API credential for local development and
// prints the raw key once. Only the hash ends up in the database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clearops/clearops-gateway/platform/go/apikey"
	"github.com/clearops/clearops-gateway/platform/go/persistence"
)

func main() {
	databaseURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "postgres connection string (defaults to DATABASE_URL)")
	tenant := flag.String("tenant", "", "tenant UUID the credential belongs to (generated when empty)")
	name := flag.String("name", "dev key", "human readable credential name")
	permissions := flag.String("permissions", "read,write", "comma-separated permissions")
	rateLimit := flag.Int("rate-limit", 60, "allowed requests per trailing minute")
	expiresIn := flag.Duration("expires-in", 0, "credential lifetime (e.g. 720h); zero means no expiry")

	flag.Parse()

	if strings.TrimSpace(*databaseURL) == "" {
		fmt.Fprintln(os.Stderr, "error: -database-url or DATABASE_URL is required")
		os.Exit(1)
	}

	tenantID := uuid.New()
	if strings.TrimSpace(*tenant) != "" {
		parsed, err := uuid.Parse(strings.TrimSpace(*tenant))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid tenant id: %v\n", err)
			os.Exit(1)
		}
		tenantID = parsed
	}

	var expiresAt *time.Time
	if *expiresIn > 0 {
		t := time.Now().UTC().Add(*expiresIn)
		expiresAt = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: *databaseURL})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: connect database: %v\n", err)
		os.Exit(1)
	}
	defer persistence.ClosePool(pool)

	store, err := persistence.NewCredentialStore(ctx, pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: prepare credential store: %v\n", err)
		os.Exit(1)
	}

	rawKey := apikey.GenerateKey()
	hasher := apikey.SHA256Hasher{}

	credential, err := store.CreateCredential(ctx, persistence.CreateCredentialParams{
		CredentialID:       uuid.New(),
		TenantID:           tenantID,
		Name:               strings.TrimSpace(*name),
		KeyPrefix:          apikey.DisplayPrefix(rawKey),
		KeyHash:            hasher.Hash(rawKey),
		Permissions:        splitCSV(*permissions),
		RateLimitPerMinute: *rateLimit,
		ExpiresAt:          expiresAt,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: create credential: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("credential_id: %s\n", credential.CredentialID)
	fmt.Printf("tenant_id:     %s\n", credential.TenantID)
	fmt.Printf("permissions:   %s\n", strings.Join(credential.Permissions, ","))
	fmt.Printf("rate_limit:    %d/min\n", credential.RateLimitPerMinute)
	if credential.ExpiresAt != nil {
		fmt.Printf("expires_at:    %s\n", credential.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("api_key:       %s\n", rawKey)
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
