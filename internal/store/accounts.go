package store

import (
	"context"
	"fmt"

	"github.com/ashita-ai/omomi/internal/model"
)

// InsertAccount creates an account and returns its id.
func (s *Store) InsertAccount(ctx context.Context, a *model.Account) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO accounts (email_addr) VALUES (?)`, model.CanonicalAddress(a.EmailAddr))
	if err != nil {
		return 0, fmt.Errorf("store: insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert account: %w", err)
	}
	a.ID = id
	return id, nil
}

// GetAccount loads one account.
func (s *Store) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	a := &model.Account{}
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, email_addr FROM accounts WHERE id = ?`, id).Scan(&a.ID, &a.EmailAddr)
	if err != nil {
		return nil, fmt.Errorf("store: get account %d: %w", id, notFound(err))
	}
	return a, nil
}

// ListAccounts returns every account ordered by id.
func (s *Store) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, email_addr FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list accounts: %w", err)
	}
	defer rows.Close()
	var out []*model.Account
	for rows.Next() {
		a := &model.Account{}
		if err := rows.Scan(&a.ID, &a.EmailAddr); err != nil {
			return nil, fmt.Errorf("store: scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
