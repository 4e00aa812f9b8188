package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BudgetAccount reads the singleton budget account row.
func (s *Store) BudgetAccount(ctx context.Context) (*Account, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT balance, membership_expiry, earn_rate, updated_at FROM budget_account WHERE id = 1`,
	)
	var (
		balance    int64
		expiryRaw  sql.NullString
		earnRate   float64
		updatedRaw sql.NullString
	)
	if err := row.Scan(&balance, &expiryRaw, &earnRate, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("budget account row missing; database not initialized")
		}
		return nil, fmt.Errorf("get budget account: %w", err)
	}

	account := &Account{Balance: balance, EarnRate: earnRate}
	if expiryRaw.Valid {
		if expiry, err := parseTimeString(expiryRaw.String); err == nil {
			account.MembershipExpiry = expiry
		}
	}
	if updatedRaw.Valid {
		if updated, err := parseTimeString(updatedRaw.String); err == nil {
			account.UpdatedAt = updated
		}
	}
	return account, nil
}

// UpdateBudgetAccount persists the singleton budget account. The balance
// check constraint rejects any negative write.
func (s *Store) UpdateBudgetAccount(ctx context.Context, account *Account) error {
	if account == nil {
		return errors.New("account is nil")
	}
	if account.Balance < 0 {
		return fmt.Errorf("budget balance must not be negative, got %d", account.Balance)
	}
	account.UpdatedAt = time.Now().UTC()

	var expiry any
	if !account.MembershipExpiry.IsZero() {
		expiry = formatTime(account.MembershipExpiry)
	}
	_, err := s.execWithRetry(
		ctx,
		`UPDATE budget_account SET balance = ?, membership_expiry = ?, earn_rate = ?, updated_at = ? WHERE id = 1`,
		account.Balance,
		expiry,
		account.EarnRate,
		formatTime(account.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update budget account: %w", err)
	}
	return nil
}

// AppendLedger records one budget spend in the append-only ledger.
func (s *Store) AppendLedger(ctx context.Context, kind LedgerKind, amount, resultingBalance int64) (*LedgerEntry, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO budget_ledger (created_at, kind, amount, resulting_balance) VALUES (?, ?, ?, ?)`,
		formatTime(now),
		kind,
		amount,
		resultingBalance,
	)
	if err != nil {
		return nil, fmt.Errorf("append ledger: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &LedgerEntry{
		ID:               id,
		CreatedAt:        now,
		Kind:             kind,
		Amount:           amount,
		ResultingBalance: resultingBalance,
	}, nil
}

// ListLedger returns the most recent ledger entries, newest first.
func (s *Store) ListLedger(ctx context.Context, limit int) ([]*LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, created_at, kind, amount, resulting_balance
         FROM budget_ledger ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var entries []*LedgerEntry
	for rows.Next() {
		var (
			entry      LedgerEntry
			createdRaw string
		)
		if err := rows.Scan(&entry.ID, &createdRaw, &entry.Kind, &entry.Amount, &entry.ResultingBalance); err != nil {
			return nil, err
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
