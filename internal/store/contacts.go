package store

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/ashita-ai/omomi/internal/model"
)

const contactColumns = `id, account_id, source, first_name, last_name, company_name,
	email_addresses, phone_numbers, note, weighted_rank, index_version`

func scanContact(row scanner) (*model.Contact, error) {
	c := &model.Contact{}
	var emails, phones string
	err := row.Scan(&c.ID, &c.AccountID, &c.Source, &c.FirstName, &c.LastName, &c.CompanyName,
		&emails, &phones, &c.Note, &c.WeightedRank, &c.IndexVersion)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(emails), &c.EmailAddresses); err != nil {
		return nil, fmt.Errorf("decode email addresses of contact %d: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(phones), &c.PhoneNumbers); err != nil {
		return nil, fmt.Errorf("decode phone numbers of contact %d: %w", c.ID, err)
	}
	return c, nil
}

func (s *Store) queryContacts(ctx context.Context, query string, args ...any) ([]*model.Contact, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

// InsertContact stores a contact and its address lookup rows.
func (s *Store) InsertContact(ctx context.Context, c *model.Contact) (int64, error) {
	for i, addr := range c.EmailAddresses {
		c.EmailAddresses[i] = model.CanonicalAddress(addr)
	}
	emails, err := encodeList(c.EmailAddresses)
	if err != nil {
		return 0, fmt.Errorf("store: insert contact: %w", err)
	}
	phones, err := encodeList(c.PhoneNumbers)
	if err != nil {
		return 0, fmt.Errorf("store: insert contact: %w", err)
	}
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO contacts (account_id, source, first_name, last_name, company_name,
			email_addresses, phone_numbers, note, weighted_rank, index_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.AccountID, c.Source, c.FirstName, c.LastName, c.CompanyName,
		emails, phones, c.Note, c.WeightedRank, c.IndexVersion)
	if err != nil {
		return 0, fmt.Errorf("store: insert contact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert contact: %w", err)
	}
	c.ID = id
	for _, addr := range c.EmailAddresses {
		if _, err := s.conn.ExecContext(ctx,
			`INSERT OR IGNORE INTO contact_addresses (contact_id, account_id, address) VALUES (?, ?, ?)`,
			id, c.AccountID, addr); err != nil {
			return 0, fmt.Errorf("store: insert contact address: %w", err)
		}
	}
	return id, nil
}

// GetContact loads one contact.
func (s *Store) GetContact(ctx context.Context, id int64) (*model.Contact, error) {
	c, err := scanContact(s.conn.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("store: get contact %d: %w", id, notFound(err))
	}
	return c, nil
}

// DeleteContact removes a contact. Deleting a missing row is not an error.
func (s *Store) DeleteContact(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete contact %d: %w", id, err)
	}
	return nil
}

// HasContactForAddress reports whether any contact of the account lists addr.
func (s *Store) HasContactForAddress(ctx context.Context, accountID int64, addr string) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contact_addresses WHERE account_id = ? AND address = ?`,
		accountID, model.CanonicalAddress(addr)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: lookup contact address: %w", err)
	}
	return n > 0, nil
}

// ContactsNeedingIndexing returns contacts whose document is missing or stale.
func (s *Store) ContactsNeedingIndexing(ctx context.Context, count int) ([]*model.Contact, error) {
	out, err := s.queryContacts(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE index_version < ? ORDER BY id LIMIT ?`,
		model.CurrentIndexVersion, count)
	if err != nil {
		return nil, fmt.Errorf("store: contacts needing indexing: %w", err)
	}
	return out, nil
}

// RICContacts returns the account's RIC contacts, highest rank first.
func (s *Store) RICContacts(ctx context.Context, accountID int64) ([]*model.Contact, error) {
	out, err := s.queryContacts(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE account_id = ? AND source = ?
		 ORDER BY weighted_rank DESC, id`, accountID, model.ContactRIC)
	if err != nil {
		return nil, fmt.Errorf("store: ric contacts: %w", err)
	}
	return out, nil
}

// SetContactIndexVersion records the document version written for a contact.
func (s *Store) SetContactIndexVersion(ctx context.Context, id int64, version int) error {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE contacts SET index_version = ? WHERE id = ?`, version, id); err != nil {
		return fmt.Errorf("store: set contact index version %d: %w", id, err)
	}
	return nil
}
