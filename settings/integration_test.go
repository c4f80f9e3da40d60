//go:build integration

package settings_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mor/automatr/settings"

	_ "github.com/lib/pq"
)

// setupTestDB starts PostgreSQL in a container and applies the schema
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "automatr_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=automatr_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			if err = db.Ping(); err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	schema, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		container.Terminate(ctx)
	}
	return db, cleanup
}

func TestPostgresStore_BasicCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := settings.NewPostgresStore(db)

	entry := &settings.Entry{
		Key:       "melding_aangemaakt_met_onderwerp_en_vragen",
		Name:      "Vragen",
		Variables: json.RawMessage(`[{"onderwerp_url": "https://onderwerpen/1/", "taaktype": "https://taken/3/"}]`),
	}
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("Failed to put entry: %v", err)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be returned")
	}

	got, err := store.Get(ctx, entry.Key)
	if err != nil {
		t.Fatalf("Failed to get entry: %v", err)
	}
	if got.Name != "Vragen" {
		t.Errorf("Expected name Vragen, got %s", got.Name)
	}

	var variables []map[string]any
	if err := json.Unmarshal(got.Variables, &variables); err != nil {
		t.Fatalf("Stored variables are not a JSON array: %v", err)
	}
	if len(variables) != 1 || variables[0]["taaktype"] != "https://taken/3/" {
		t.Errorf("Unexpected variables: %v", variables)
	}

	entry.Variables = json.RawMessage(`{"taaktype": "https://taken/4/"}`)
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("Failed to replace entry: %v", err)
	}

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("Failed to list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry after upsert, got %d", len(entries))
	}

	if err := store.Delete(ctx, entry.Key); err != nil {
		t.Fatalf("Failed to delete entry: %v", err)
	}
	if _, err := store.Get(ctx, entry.Key); !errors.Is(err, settings.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, entry.Key); !errors.Is(err, settings.ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestPostgresStore_RejectsInvalidJSON(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := settings.NewPostgresStore(db)
	err := store.Put(context.Background(), &settings.Entry{Key: "x", Variables: json.RawMessage(`{oops`)})
	if err == nil {
		t.Fatal("Expected error for invalid JSON")
	}
}
