// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockJournal(t *testing.T) (*Journal, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, DriverMySQL, 0), mock
}

func TestJournal_Start(t *testing.T) {
	j, mock := newMockJournal(t)
	started := time.Date(2024, 1, 5, 10, 15, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO publish_runs").
		WithArgs("run-1", "SiteA", "Linac1", "catphan", "/data/case", "running", started).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := j.Start(context.Background(), Run{
		ID:           "run-1",
		Site:         "SiteA",
		Device:       "Linac1",
		Phantom:      "catphan",
		ResultFolder: "/data/case",
		StartedAt:    started,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestJournal_Finish(t *testing.T) {
	finished := time.Date(2024, 1, 5, 10, 16, 0, 0, time.UTC)
	run := Run{
		ID:           "run-1",
		FileName:     "catphan_case.zip",
		DocumentID:   "abc",
		NumericCount: 12,
		TextualCount: 3,
		Status:       StatusSucceeded,
		FinishedAt:   &finished,
	}

	t.Run("updates row", func(t *testing.T) {
		j, mock := newMockJournal(t)
		mock.ExpectExec("UPDATE publish_runs SET").
			WithArgs("catphan_case.zip", "abc", 12, 3, "succeeded", "", finished, "run-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := j.Finish(context.Background(), run); err != nil {
			t.Fatalf("Finish: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("ExpectationsWereMet: %v", err)
		}
	})

	t.Run("inserts run without start", func(t *testing.T) {
		j, mock := newMockJournal(t)
		mock.ExpectExec("UPDATE publish_runs SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO publish_runs").
			WithArgs("run-1", "", "", "", "", "catphan_case.zip", "abc", 12, 3, "succeeded", "", finished, finished).
			WillReturnResult(sqlmock.NewResult(1, 1))

		if err := j.Finish(context.Background(), run); err != nil {
			t.Fatalf("Finish: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("ExpectationsWereMet: %v", err)
		}
	})

	t.Run("insert error", func(t *testing.T) {
		j, mock := newMockJournal(t)
		mock.ExpectExec("UPDATE publish_runs SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO publish_runs").
			WillReturnError(errors.New("duplicate entry"))

		if err := j.Finish(context.Background(), run); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("driver error", func(t *testing.T) {
		j, mock := newMockJournal(t)
		mock.ExpectExec("UPDATE publish_runs SET").
			WillReturnError(errors.New("connection reset"))

		if err := j.Finish(context.Background(), run); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestJournal_Recent(t *testing.T) {
	j, mock := newMockJournal(t)
	started := time.Date(2024, 1, 5, 10, 15, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	cols := []string{"id", "site", "device", "phantom", "result_folder", "file_name", "document_id",
		"numeric_count", "textual_count", "status", "error", "started_at", "finished_at"}
	mock.ExpectQuery("SELECT .* FROM publish_runs ORDER BY started_at DESC LIMIT").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("run-2", "SiteA", "Linac1", "qc3", "/b", "", "", 0, 0, "failed", "upload failed", started, finished).
			AddRow("run-1", "SiteA", "Linac1", "catphan", "/a", "a.zip", "abc", 12, 3, "succeeded", nil, started, nil))

	runs, err := j.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Status != StatusFailed || runs[0].Error != "upload failed" || runs[0].FinishedAt == nil {
		t.Errorf("unexpected first run: %+v", runs[0])
	}
	if runs[1].NumericCount != 12 || runs[1].Error != "" || runs[1].FinishedAt != nil {
		t.Errorf("unexpected second run: %+v", runs[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		dsn    string
	}{
		{"empty dsn", DriverSQLite, ""},
		{"unsupported driver", "postgres", "postgres://localhost/qa"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.driver, tt.dsn, 0); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestJournal_SQLiteRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(DriverSQLite, dsn, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	base := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2"} {
		err := j.Start(ctx, Run{
			ID:           id,
			Site:         "SiteA",
			Device:       "Linac1",
			Phantom:      "catphan",
			ResultFolder: "/data/" + id,
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Start(%s): %v", id, err)
		}
	}

	if err := j.Finish(ctx, Run{ID: "run-1", FileName: "catphan_run-1.zip", NumericCount: 4, Status: StatusSucceeded}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := j.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusSucceeded || got.FileName != "catphan_run-1.zip" || got.NumericCount != 4 {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
	if !got.StartedAt.Equal(base) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, base)
	}

	if _, err := j.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// start never recorded
	late := base.Add(time.Hour)
	err = j.Finish(ctx, Run{
		ID:        "run-3",
		Site:      "SiteB",
		Device:    "CT1",
		Phantom:   "qc3",
		Status:    StatusFailed,
		Error:     "upload failed",
		StartedAt: late,
	})
	if err != nil {
		t.Fatalf("Finish(run-3): %v", err)
	}
	got, err = j.Get(ctx, "run-3")
	if err != nil {
		t.Fatalf("Get(run-3): %v", err)
	}
	if got.Site != "SiteB" || got.Status != StatusFailed || got.Error != "upload failed" || !got.StartedAt.Equal(late) {
		t.Errorf("unexpected run-3: %+v", got)
	}

	runs, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "run-3" || runs[1].ID != "run-2" {
		t.Fatalf("expected newest first, got %+v", runs)
	}
	if runs[1].Status != StatusRunning {
		t.Errorf("run-2 status = %s, want running", runs[1].Status)
	}
}
