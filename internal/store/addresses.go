package store

import (
	"context"
	"fmt"

	"github.com/ashita-ai/omomi/internal/model"
)

const addressColumns = `id, account_id, address, is_vip, score_version, score, need_update,
	emails_received, emails_read, emails_replied, emails_sent, emails_deleted,
	marked_hot, marked_not_hot`

type scanner interface {
	Scan(dest ...any) error
}

func scanAddress(row scanner) (*model.EmailAddress, error) {
	a := &model.EmailAddress{}
	var vip int
	err := row.Scan(&a.ID, &a.AccountID, &a.Address, &vip, &a.ScoreVersion, &a.Score, &a.NeedUpdate,
		&a.Stats.EmailsReceived, &a.Stats.EmailsRead, &a.Stats.EmailsReplied, &a.Stats.EmailsSent,
		&a.Stats.EmailsDeleted, &a.Stats.MarkedHot, &a.Stats.MarkedNotHot)
	if err != nil {
		return nil, err
	}
	a.IsVip = vip != 0
	return a, nil
}

func (s *Store) queryAddresses(ctx context.Context, query string, args ...any) ([]*model.EmailAddress, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.EmailAddress
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAddress loads one address by id.
func (s *Store) GetAddress(ctx context.Context, id int64) (*model.EmailAddress, error) {
	a, err := scanAddress(s.conn.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM email_addresses WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("store: get address %d: %w", id, notFound(err))
	}
	return a, nil
}

// GetAddressByValue loads an address by its canonical form.
func (s *Store) GetAddressByValue(ctx context.Context, accountID int64, address string) (*model.EmailAddress, error) {
	a, err := scanAddress(s.conn.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM email_addresses WHERE account_id = ? AND address = ?`,
		accountID, model.CanonicalAddress(address)))
	if err != nil {
		return nil, fmt.Errorf("store: get address %q: %w", address, notFound(err))
	}
	return a, nil
}

// GetOrCreateAddress returns the address row, inserting an empty one when
// missing. created reports whether a row was inserted.
func (s *Store) GetOrCreateAddress(ctx context.Context, accountID int64, address string) (a *model.EmailAddress, created bool, err error) {
	canonical := model.CanonicalAddress(address)
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO email_addresses (account_id, address) VALUES (?, ?)
		 ON CONFLICT (account_id, address) DO NOTHING`, accountID, canonical)
	if err != nil {
		return nil, false, fmt.Errorf("store: create address %q: %w", canonical, err)
	}
	n, _ := res.RowsAffected()
	a, err = s.GetAddressByValue(ctx, accountID, canonical)
	if err != nil {
		return nil, false, err
	}
	return a, n > 0, nil
}

// UpdateAddress writes every mutable column.
func (s *Store) UpdateAddress(ctx context.Context, a *model.EmailAddress) error {
	st := a.Stats
	res, err := s.conn.ExecContext(ctx, `
		UPDATE email_addresses SET is_vip = ?, score_version = ?, score = ?, need_update = ?,
			emails_received = ?, emails_read = ?, emails_replied = ?, emails_sent = ?,
			emails_deleted = ?, marked_hot = ?, marked_not_hot = ?
		WHERE id = ?`,
		boolInt(a.IsVip), a.ScoreVersion, a.Score, a.NeedUpdate,
		st.EmailsReceived, st.EmailsRead, st.EmailsReplied, st.EmailsSent,
		st.EmailsDeleted, st.MarkedHot, st.MarkedNotHot, a.ID)
	if err != nil {
		return fmt.Errorf("store: update address %d: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: update address %d: %w", a.ID, ErrNotFound)
	}
	return nil
}

// AddressesNeedingAnalysis returns addresses below the current scoring version.
func (s *Store) AddressesNeedingAnalysis(ctx context.Context, count int) ([]*model.EmailAddress, error) {
	out, err := s.queryAddresses(ctx,
		`SELECT `+addressColumns+` FROM email_addresses WHERE score_version < ? ORDER BY id LIMIT ?`,
		model.ScoringVersion, count)
	if err != nil {
		return nil, fmt.Errorf("store: addresses needing analysis: %w", err)
	}
	return out, nil
}

// AddressesNeedingUpdate returns analyzed addresses marked for a rescore.
func (s *Store) AddressesNeedingUpdate(ctx context.Context, count int) ([]*model.EmailAddress, error) {
	out, err := s.queryAddresses(ctx,
		`SELECT `+addressColumns+` FROM email_addresses
		 WHERE need_update > 0 AND score_version = ? ORDER BY need_update DESC, id LIMIT ?`,
		model.ScoringVersion, count)
	if err != nil {
		return nil, fmt.Errorf("store: addresses needing update: %w", err)
	}
	return out, nil
}

// MarkAddressForUpdate bumps need_update on one address.
func (s *Store) MarkAddressForUpdate(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE email_addresses SET need_update = need_update + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: mark address %d: %w", id, err)
	}
	return nil
}
