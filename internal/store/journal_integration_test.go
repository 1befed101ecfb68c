// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mariadb"
)

// setupMariaDB starts a MariaDB container and returns its DSN.
func setupMariaDB(t *testing.T) string {
	t.Helper()
	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-based tests (SKIP_DOCKER_TESTS=true)")
	}
	if testing.Short() {
		t.Skip("Skipping Docker-based tests in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := mariadb.Run(ctx, "mariadb:10.11",
		mariadb.WithDatabase("phantomqa"),
		mariadb.WithUsername("root"),
		mariadb.WithPassword("testpassword"),
	)
	if err != nil {
		t.Fatalf("Failed to start MariaDB container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	return dsn
}

func TestJournal_MariaDB(t *testing.T) {
	dsn := setupMariaDB(t)

	var (
		j   *Journal
		err error
	)
	// MariaDB may accept connections a moment after the log line
	for i := 0; i < 10; i++ {
		if j, err = Open(DriverMySQL, dsn, 0); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)
	if err := j.Start(ctx, Run{ID: "run-1", Site: "SiteA", Device: "Linac1", Phantom: "catphan", ResultFolder: "/a", StartedAt: started}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := j.Finish(ctx, Run{ID: "run-1", Status: StatusFailed, Error: "upload failed"}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := j.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusFailed || got.Error != "upload failed" {
		t.Errorf("unexpected run: %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, started)
	}

	// schema creation is idempotent
	if err := j.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
}
