// Command bootstrap-account seeds or updates an operator account in the datastore.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"mediavault/internal/models"
	"mediavault/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		username    string
		role        string
		password    string
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&username, "username", "", "Username for the account")
	flag.StringVar(&role, "role", models.RoleAdmin, "Role for the account (admin or nonadmin)")
	flag.StringVar(&password, "password", "", "Password for the account")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(username) == "" {
		fatalf("--username is required")
	}
	if len(password) < 8 {
		fatalf("--password must be at least 8 characters")
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if !models.ValidRole(role) {
		fatalf("--role must be %q or %q", models.RoleAdmin, models.RoleNonAdmin)
	}

	repo, err := openRepository(jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	username = strings.TrimSpace(username)

	account, created, err := bootstrapAccount(repo, username, role, password)
	if err != nil {
		fatalf("bootstrap account: %v", err)
	}

	state := "updated"
	if created {
		state = "created"
	}
	fmt.Printf("Account %s (%s) %s successfully.\n", account.Username, account.Role, state)
	fmt.Println("Remember to rotate this password after the first login.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewJSONRepository(jsonPath)
	}
	return storage.NewPostgresRepository(postgresDSN)
}

func closeRepository(repo storage.Repository) {
	type closer interface {
		Close(context.Context) error
	}
	if c, ok := repo.(closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}
}

func bootstrapAccount(repo storage.Repository, username, role, password string) (models.Account, bool, error) {
	existing, err := repo.GetAccount(username)
	switch {
	case err == nil:
		return updateAccount(repo, existing, role, password)
	case errors.Is(err, storage.ErrAccountNotFound):
	default:
		return models.Account{}, false, err
	}

	account, err := repo.CreateAccount(storage.CreateAccountParams{
		Username: username,
		Password: password,
		Role:     role,
	})
	if err != nil {
		return models.Account{}, false, err
	}
	return account, true, nil
}

func updateAccount(repo storage.Repository, existing models.Account, role, password string) (models.Account, bool, error) {
	updated := existing
	var err error
	if existing.Role != role {
		updated, err = repo.SetAccountRole(existing.Username, role)
		if err != nil {
			return models.Account{}, false, err
		}
	}

	updated, err = repo.SetAccountPassword(existing.Username, password)
	if err != nil {
		return models.Account{}, false, err
	}
	return updated, false, nil
}
