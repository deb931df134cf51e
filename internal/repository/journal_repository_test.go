package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"multileg/internal/models"
)

// ============================================================
// JournalRepository Tests
// ============================================================

func TestNewJournalRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewJournalRepository(db)
	if repo == nil {
		t.Fatal("NewJournalRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestJournalRepositoryRecordEvent(t *testing.T) {
	tests := []struct {
		name        string
		event       *models.JournalEvent
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			event: &models.JournalEvent{
				TaskID:    "multileg:basis:BTC/USDT:dest-hedge-source",
				Symbol:    "BTC/USDT",
				FromState: "ANALYZING",
				ToState:   "EXECUTING",
				Version:   7,
				Detail:    "entry signal",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO task_events`).
					WithArgs("multileg:basis:BTC/USDT:dest-hedge-source", "BTC/USDT",
						"ANALYZING", "EXECUTING", uint64(7), "entry signal", sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
			},
			expectError: false,
		},
		{
			name: "database error",
			event: &models.JournalEvent{
				TaskID: "multileg:basis:BTC/USDT:dest-hedge-source",
				Symbol: "BTC/USDT",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO task_events`).
					WithArgs("multileg:basis:BTC/USDT:dest-hedge-source", "BTC/USDT",
						"", "", uint64(0), "", sqlmock.AnyArg()).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewJournalRepository(db)
			err = repo.RecordEvent(tt.event)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if tt.event.ID != 42 {
					t.Errorf("expected ID=42, got %d", tt.event.ID)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestJournalRepositoryUpsertSummary(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO task_summaries`).
		WithArgs("multileg:basis:BTC/USDT:dest-hedge-source", "BTC/USDT", "basis",
			"COMPLETED", int64(5), 0.1, 12.5, "", sqlmock.AnyArg(), &now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewJournalRepository(db)
	err = repo.UpsertSummary(&models.TaskSummary{
		TaskID:     "multileg:basis:BTC/USDT:dest-hedge-source",
		Symbol:     "BTC/USDT",
		Strategy:   "basis",
		State:      "COMPLETED",
		Cycles:     5,
		Volume:     0.1,
		Profit:     12.5,
		FinishedAt: &now,
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestJournalRepositoryGetSummary(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		taskID      string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name:   "success",
			taskID: "multileg:basis:BTC/USDT:dest-hedge-source",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{
					"task_id", "symbol", "strategy", "state", "cycles",
					"volume", "profit", "last_error", "updated_at", "finished_at",
				}).AddRow("multileg:basis:BTC/USDT:dest-hedge-source", "BTC/USDT", "basis",
					"COMPLETED", int64(5), 0.1, 12.5, "", now, &now)
				mock.ExpectQuery(`SELECT (.+) FROM task_summaries`).
					WithArgs("multileg:basis:BTC/USDT:dest-hedge-source").
					WillReturnRows(rows)
			},
		},
		{
			name:   "not found",
			taskID: "multileg:basis:XX/YY:dest-hedge-source",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT (.+) FROM task_summaries`).
					WithArgs("multileg:basis:XX/YY:dest-hedge-source").
					WillReturnRows(sqlmock.NewRows([]string{
						"task_id", "symbol", "strategy", "state", "cycles",
						"volume", "profit", "last_error", "updated_at", "finished_at",
					}))
			},
			expectError: ErrSummaryNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewJournalRepository(db)
			summary, err := repo.GetSummary(tt.taskID)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("error = %v, want %v", err, tt.expectError)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if summary.Cycles != 5 {
					t.Errorf("Cycles = %d, want 5", summary.Cycles)
				}
				if summary.Profit != 12.5 {
					t.Errorf("Profit = %v, want 12.5", summary.Profit)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestJournalRepositoryGetRecentEvents(t *testing.T) {
	now := time.Now()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "task_id", "symbol", "from_state", "to_state", "version", "detail", "created_at",
	}).
		AddRow(2, "multileg:basis:BTC/USDT:dest-hedge-source", "BTC/USDT",
			"EXECUTING", "MONITORING", uint64(8), "", now).
		AddRow(1, "multileg:basis:BTC/USDT:dest-hedge-source", "BTC/USDT",
			"ANALYZING", "EXECUTING", uint64(7), "entry signal", now.Add(-time.Second))

	mock.ExpectQuery(`SELECT (.+) FROM task_events`).
		WithArgs(10).
		WillReturnRows(rows)

	repo := NewJournalRepository(db)
	events, err := repo.GetRecentEvents(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ToState != "MONITORING" {
		t.Errorf("events[0].ToState = %s", events[0].ToState)
	}
	if events[1].Detail != "entry signal" {
		t.Errorf("events[1].Detail = %s", events[1].Detail)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestJournalRepositoryTotalProfit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(profit\), 0\) FROM task_summaries`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(37.25))

	repo := NewJournalRepository(db)
	total, err := repo.TotalProfit()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 37.25 {
		t.Errorf("TotalProfit = %v, want 37.25", total)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestJournalRepositoryDeleteEventsOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(`DELETE FROM task_events`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 17))

	repo := NewJournalRepository(db)
	removed, err := repo.DeleteEventsOlderThan(cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 17 {
		t.Errorf("removed = %d, want 17", removed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
