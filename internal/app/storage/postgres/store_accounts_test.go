package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/lattice-run/core/internal/app/domain/account"
)

func accountRow(id, userID string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "user_id", "profile_url", "display_name", "validation_status", "health_status",
		"session_valid_at", "user_paused", "metadata", "created_at", "updated_at",
	}).AddRow(id, userID, "https://example.com/in/user1", "User One",
		string(account.ValidationConnected), string(account.HealthHealthy), nil, false, []byte(`{}`), now, now)
}

func TestStoreCreateAccountInsertsGeneratedID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(".*INSERT INTO accounts.*").
		WillReturnResult(sqlmock.NewResult(1, 1))

	acct, err := store.CreateAccount(context.Background(), account.Account{UserID: "user-1", ProfileURL: "https://example.com/in/user1"})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if acct.ID == "" {
		t.Fatalf("expected a generated account id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreUpdateAccountReturnsNotFoundWhenNoRowsAffected(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(".*UPDATE accounts.*").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateAccount(context.Background(), account.Account{ID: "missing-account"})
	if err != errNotFound {
		t.Fatalf("expected errNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreGetAccountByUserIDScansRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(".*FROM accounts.*WHERE user_id = .*").
		WithArgs("user-1").
		WillReturnRows(accountRow("acct-1", "user-1"))

	acct, err := store.GetAccountByUserID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get account by user id: %v", err)
	}
	if acct.ID != "acct-1" || acct.UserID != "user-1" {
		t.Fatalf("unexpected account: %#v", acct)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreListAccountsReturnsAllMatchingRows(t *testing.T) {
	store, mock := newMockStore(t)
	rows := accountRow("acct-1", "user-1")
	rows.AddRow("acct-2", "user-1", "https://example.com/in/user1b", "User One B",
		string(account.ValidationConnected), string(account.HealthHealthy), nil, false, []byte(`{}`), time.Now().UTC(), time.Now().UTC())
	mock.ExpectQuery(".*FROM accounts.*").
		WithArgs("user-1").
		WillReturnRows(rows)

	accts, err := store.ListAccounts(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(accts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accts))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
