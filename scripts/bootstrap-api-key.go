//go:build ignore

// Command bootstrap-api-key creates the first admin API key directly in
// Postgres. Later keys are managed through /api/v1/api-keys.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/astrotarot/astrotarot/internal/auth"
	"github.com/astrotarot/astrotarot/internal/model"
	"github.com/astrotarot/astrotarot/internal/repository"
)

type output struct {
	Owner     string   `json:"owner"`
	KeyID     string   `json:"key_id"`
	Key       string   `json:"key"`
	KeyPrefix string   `json:"key_prefix"`
	Scopes    []string `json:"scopes"`
}

type options struct {
	databaseURL string
	owner       string
	name        string
	scopes      string
	env         string
	format      string
	force       bool
}

func main() {
	var o options
	flag.StringVar(&o.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	flag.StringVar(&o.owner, "owner", "ops", "Operator that owns the key")
	flag.StringVar(&o.name, "name", "bootstrap", "API key name")
	flag.StringVar(&o.scopes, "scopes", "admin", "Comma-separated scopes (read,write,admin)")
	flag.StringVar(&o.env, "env", auth.EnvLive, "Key environment: live or test")
	flag.StringVar(&o.format, "format", "plain", "Output format: plain or json")
	flag.BoolVar(&o.force, "force", false, "Create a key even if the owner already has active keys")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintln(os.Stderr, "bootstrap-api-key:", err)
		os.Exit(1)
	}
}

func run(o options) error {
	if o.databaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	format := strings.ToLower(o.format)
	if format != "plain" && format != "json" {
		return fmt.Errorf("unknown format %q, use plain or json", o.format)
	}
	scopes, err := parseScopes(o.scopes)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, o.databaseURL, 2)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer repo.Close()

	if !o.force {
		if err := ensureNoActiveKey(ctx, repo, o.owner); err != nil {
			return err
		}
	}

	generated, err := auth.GenerateAPIKey(o.env)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	key := &model.APIKey{
		ID:            ulid.Make().String(),
		Owner:         o.owner,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        scopes,
		RateLimitTier: model.TierUnlimited,
		Name:          o.name,
		CreatedAt:     time.Now().UTC(),
	}
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		return err
	}

	if format == "plain" {
		fmt.Println(generated.Plaintext)
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(output{
		Owner:     key.Owner,
		KeyID:     key.ID,
		Key:       generated.Plaintext,
		KeyPrefix: key.KeyPrefix,
		Scopes:    scopes,
	})
}

func ensureNoActiveKey(ctx context.Context, repo *repository.Repository, owner string) error {
	keys, err := repo.ListAPIKeys(ctx, owner)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if !k.IsRevoked() {
			return fmt.Errorf("owner %s already has active key %s; pass -force to add another", owner, k.ID)
		}
	}
	return nil
}

func parseScopes(input string) ([]string, error) {
	var scopes []string
	for _, part := range strings.Split(input, ",") {
		scope := strings.TrimSpace(part)
		if scope == "" {
			continue
		}
		if !slices.Contains(model.ValidScopes, scope) {
			return nil, fmt.Errorf("invalid scope: %s", scope)
		}
		scopes = append(scopes, scope)
	}
	if len(scopes) == 0 {
		scopes = []string{model.ScopeAdmin}
	}
	return scopes, nil
}
