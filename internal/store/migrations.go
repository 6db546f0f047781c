package store

import "fmt"

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "accounts and addresses",
		SQL: `
CREATE TABLE accounts (
    id          INTEGER PRIMARY KEY,
    email_addr  TEXT NOT NULL
);

CREATE TABLE email_addresses (
    id              INTEGER PRIMARY KEY,
    account_id      INTEGER NOT NULL REFERENCES accounts(id),
    address         TEXT NOT NULL,
    is_vip          INTEGER NOT NULL DEFAULT 0,
    score_version   INTEGER NOT NULL DEFAULT 0,
    score           REAL NOT NULL DEFAULT 0,
    need_update     INTEGER NOT NULL DEFAULT 0,
    emails_received INTEGER NOT NULL DEFAULT 0,
    emails_read     INTEGER NOT NULL DEFAULT 0,
    emails_replied  INTEGER NOT NULL DEFAULT 0,
    emails_sent     INTEGER NOT NULL DEFAULT 0,
    emails_deleted  INTEGER NOT NULL DEFAULT 0,
    marked_hot      INTEGER NOT NULL DEFAULT 0,
    marked_not_hot  INTEGER NOT NULL DEFAULT 0,
    UNIQUE (account_id, address)
);

CREATE INDEX idx_addresses_version ON email_addresses(score_version);
CREATE INDEX idx_addresses_update  ON email_addresses(need_update);
`,
	},
	{
		Version:     2,
		Description: "messages",
		SQL: `
CREATE TABLE email_messages (
    id                INTEGER PRIMARY KEY,
    account_id        INTEGER NOT NULL REFERENCES accounts(id),
    message_id        TEXT NOT NULL DEFAULT '',
    in_reply_to       TEXT NOT NULL DEFAULT '',
    from_addr         TEXT NOT NULL DEFAULT '',
    to_addr           TEXT NOT NULL DEFAULT '',
    cc_addr           TEXT NOT NULL DEFAULT '',
    bcc_addr          TEXT NOT NULL DEFAULT '',
    subject           TEXT NOT NULL DEFAULT '',
    preview           TEXT NOT NULL DEFAULT '',
    body              TEXT NOT NULL DEFAULT '',
    headers           TEXT NOT NULL DEFAULT '',
    date_received     INTEGER NOT NULL DEFAULT 0,
    from_address_id   INTEGER NOT NULL DEFAULT 0,
    is_read           INTEGER NOT NULL DEFAULT 0,
    is_replied        INTEGER NOT NULL DEFAULT 0,
    is_junk           INTEGER NOT NULL DEFAULT 0,
    is_from_me        INTEGER NOT NULL DEFAULT 0,
    user_action       INTEGER NOT NULL DEFAULT 0,
    flag_start        INTEGER NOT NULL DEFAULT 0,
    flag_due          INTEGER NOT NULL DEFAULT 0,
    meeting_end       INTEGER NOT NULL DEFAULT 0,
    score_version     INTEGER NOT NULL DEFAULT 0,
    score             REAL NOT NULL DEFAULT 0,
    need_update       INTEGER NOT NULL DEFAULT 0,
    variance_mark     INTEGER NOT NULL DEFAULT 0,
    is_reply          INTEGER NOT NULL DEFAULT 0,
    headers_filtered  INTEGER NOT NULL DEFAULT 0,
    score_is_read     INTEGER NOT NULL DEFAULT 0,
    score_is_replied  INTEGER NOT NULL DEFAULT 0,
    glean_phase       INTEGER NOT NULL DEFAULT 0,
    index_version     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_messages_version    ON email_messages(score_version);
CREATE INDEX idx_messages_update     ON email_messages(need_update);
CREATE INDEX idx_messages_index      ON email_messages(index_version);
CREATE INDEX idx_messages_glean      ON email_messages(account_id, glean_phase);
CREATE INDEX idx_messages_message_id ON email_messages(account_id, message_id);
CREATE INDEX idx_messages_from       ON email_messages(from_address_id);
`,
	},
	{
		Version:     3,
		Description: "contacts",
		SQL: `
CREATE TABLE contacts (
    id              INTEGER PRIMARY KEY,
    account_id      INTEGER NOT NULL REFERENCES accounts(id),
    source          TEXT NOT NULL CHECK (source IN ('gleaned', 'ric', 'device')),
    first_name      TEXT NOT NULL DEFAULT '',
    last_name       TEXT NOT NULL DEFAULT '',
    company_name    TEXT NOT NULL DEFAULT '',
    email_addresses TEXT NOT NULL DEFAULT '[]',
    phone_numbers   TEXT NOT NULL DEFAULT '[]',
    note            TEXT NOT NULL DEFAULT '',
    weighted_rank   INTEGER NOT NULL DEFAULT 0,
    index_version   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_contacts_account ON contacts(account_id, source);
CREATE INDEX idx_contacts_index   ON contacts(index_version);

CREATE TABLE contact_addresses (
    contact_id  INTEGER NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
    account_id  INTEGER NOT NULL,
    address     TEXT NOT NULL,
    PRIMARY KEY (contact_id, address)
);

CREATE INDEX idx_contact_addresses_lookup ON contact_addresses(account_id, address);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
