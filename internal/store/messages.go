package store

import (
	"context"
	"fmt"

	"github.com/ashita-ai/omomi/internal/model"
)

const messageColumns = `id, account_id, message_id, in_reply_to, from_addr, to_addr, cc_addr, bcc_addr,
	subject, preview, body, headers, date_received, from_address_id,
	is_read, is_replied, is_junk, is_from_me, user_action,
	flag_start, flag_due, meeting_end,
	score_version, score, need_update, variance_mark, is_reply, headers_filtered,
	score_is_read, score_is_replied, glean_phase, index_version`

func scanMessage(row scanner) (*model.EmailMessage, error) {
	m := &model.EmailMessage{}
	var (
		received, flagStart, flagDue, meetingEnd              int64
		isRead, isReplied, isJunk, isFromMe                   int
		isReply, headersFiltered, scoreIsRead, scoreIsReplied int
	)
	err := row.Scan(&m.ID, &m.AccountID, &m.MessageID, &m.InReplyTo, &m.From, &m.To, &m.Cc, &m.Bcc,
		&m.Subject, &m.Preview, &m.Body, &m.Headers, &received, &m.FromAddressID,
		&isRead, &isReplied, &isJunk, &isFromMe, &m.UserAction,
		&flagStart, &flagDue, &meetingEnd,
		&m.ScoreVersion, &m.Score, &m.NeedUpdate, &m.VarianceMark, &isReply, &headersFiltered,
		&scoreIsRead, &scoreIsReplied, &m.GleanPhase, &m.IndexVersion)
	if err != nil {
		return nil, err
	}
	m.DateReceived = fromMillis(received)
	m.FlagStart = fromMillis(flagStart)
	m.FlagDue = fromMillis(flagDue)
	m.MeetingEnd = fromMillis(meetingEnd)
	m.IsRead = isRead != 0
	m.IsReplied = isReplied != 0
	m.IsJunk = isJunk != 0
	m.IsFromMe = isFromMe != 0
	m.IsReply = isReply != 0
	m.HeadersFiltered = headersFiltered != 0
	m.ScoreIsRead = scoreIsRead != 0
	m.ScoreIsReplied = scoreIsReplied != 0
	return m, nil
}

func messageArgs(m *model.EmailMessage) []any {
	return []any{
		m.AccountID, m.MessageID, m.InReplyTo, m.From, m.To, m.Cc, m.Bcc,
		m.Subject, m.Preview, m.Body, m.Headers, toMillis(m.DateReceived), m.FromAddressID,
		boolInt(m.IsRead), boolInt(m.IsReplied), boolInt(m.IsJunk), boolInt(m.IsFromMe), m.UserAction,
		toMillis(m.FlagStart), toMillis(m.FlagDue), toMillis(m.MeetingEnd),
		m.ScoreVersion, m.Score, m.NeedUpdate, m.VarianceMark, boolInt(m.IsReply), boolInt(m.HeadersFiltered),
		boolInt(m.ScoreIsRead), boolInt(m.ScoreIsReplied), m.GleanPhase, m.IndexVersion,
	}
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*model.EmailMessage, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.EmailMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertMessage stores a new message and sets its id.
func (s *Store) InsertMessage(ctx context.Context, m *model.EmailMessage) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO email_messages (account_id, message_id, in_reply_to, from_addr, to_addr, cc_addr, bcc_addr,
			subject, preview, body, headers, date_received, from_address_id,
			is_read, is_replied, is_junk, is_from_me, user_action,
			flag_start, flag_due, meeting_end,
			score_version, score, need_update, variance_mark, is_reply, headers_filtered,
			score_is_read, score_is_replied, glean_phase, index_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		messageArgs(m)...)
	if err != nil {
		return 0, fmt.Errorf("store: insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert message: %w", err)
	}
	m.ID = id
	return id, nil
}

// GetMessage loads one message.
func (s *Store) GetMessage(ctx context.Context, id int64) (*model.EmailMessage, error) {
	m, err := scanMessage(s.conn.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM email_messages WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("store: get message %d: %w", id, notFound(err))
	}
	return m, nil
}

// GetMessageByMessageID finds a message by its Message-ID header.
func (s *Store) GetMessageByMessageID(ctx context.Context, accountID int64, messageID string) (*model.EmailMessage, error) {
	m, err := scanMessage(s.conn.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM email_messages WHERE account_id = ? AND message_id = ? ORDER BY id LIMIT 1`,
		accountID, messageID))
	if err != nil {
		return nil, fmt.Errorf("store: get message %q: %w", messageID, notFound(err))
	}
	return m, nil
}

// UpdateMessage writes every column of m.
func (s *Store) UpdateMessage(ctx context.Context, m *model.EmailMessage) error {
	args := append(messageArgs(m), m.ID)
	res, err := s.conn.ExecContext(ctx, `
		UPDATE email_messages SET account_id = ?, message_id = ?, in_reply_to = ?, from_addr = ?, to_addr = ?,
			cc_addr = ?, bcc_addr = ?, subject = ?, preview = ?, body = ?, headers = ?, date_received = ?,
			from_address_id = ?, is_read = ?, is_replied = ?, is_junk = ?, is_from_me = ?, user_action = ?,
			flag_start = ?, flag_due = ?, meeting_end = ?,
			score_version = ?, score = ?, need_update = ?, variance_mark = ?, is_reply = ?, headers_filtered = ?,
			score_is_read = ?, score_is_replied = ?, glean_phase = ?, index_version = ?
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("store: update message %d: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: update message %d: %w", m.ID, ErrNotFound)
	}
	return nil
}

// DeleteMessage removes a message. Deleting a missing row is not an error.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM email_messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete message %d: %w", id, err)
	}
	return nil
}

// MessagesNeedingAnalysis returns messages below the scoring version,
// newest first.
func (s *Store) MessagesNeedingAnalysis(ctx context.Context, count int) ([]*model.EmailMessage, error) {
	out, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM email_messages
		 WHERE score_version < ? ORDER BY date_received DESC, id DESC LIMIT ?`,
		model.ScoringVersion, count)
	if err != nil {
		return nil, fmt.Errorf("store: messages needing analysis: %w", err)
	}
	return out, nil
}

// MessagesNeedingUpdate returns analyzed messages whose dependencies changed.
func (s *Store) MessagesNeedingUpdate(ctx context.Context, count int) ([]*model.EmailMessage, error) {
	out, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM email_messages
		 WHERE need_update > 0 AND score_version = ? ORDER BY date_received DESC, id DESC LIMIT ?`,
		model.ScoringVersion, count)
	if err != nil {
		return nil, fmt.Errorf("store: messages needing update: %w", err)
	}
	return out, nil
}

// MessagesNeedingIndexing returns messages whose document is missing or stale.
func (s *Store) MessagesNeedingIndexing(ctx context.Context, count int) ([]*model.EmailMessage, error) {
	out, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM email_messages
		 WHERE index_version < ? ORDER BY date_received DESC, id DESC LIMIT ?`,
		model.CurrentIndexVersion, count)
	if err != nil {
		return nil, fmt.Errorf("store: messages needing indexing: %w", err)
	}
	return out, nil
}

// MessagesNeedingGleaning returns messages of an account whose addresses
// have not been extracted yet.
func (s *Store) MessagesNeedingGleaning(ctx context.Context, accountID int64, count int) ([]*model.EmailMessage, error) {
	out, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM email_messages
		 WHERE account_id = ? AND glean_phase = ? ORDER BY date_received DESC, id DESC LIMIT ?`,
		accountID, model.NotGleaned, count)
	if err != nil {
		return nil, fmt.Errorf("store: messages needing gleaning: %w", err)
	}
	return out, nil
}

// VarianceCandidates pages through scored messages whose time variance is
// not done, oldest first, starting after (afterReceived, afterID).
func (s *Store) VarianceCandidates(ctx context.Context, afterReceived int64, afterID int64, count int) ([]*model.EmailMessage, error) {
	out, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM email_messages
		 WHERE score_version > 0 AND variance_mark != ?
		   AND (date_received > ? OR (date_received = ? AND id > ?))
		 ORDER BY date_received, id LIMIT ?`,
		model.VarianceDone, afterReceived, afterReceived, afterID, count)
	if err != nil {
		return nil, fmt.Errorf("store: variance candidates: %w", err)
	}
	return out, nil
}

// MarkDependentMessages bumps need_update on every message sent from the
// address and returns how many were marked.
func (s *Store) MarkDependentMessages(ctx context.Context, addressID int64) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE email_messages SET need_update = need_update + 1 WHERE from_address_id = ?`, addressID)
	if err != nil {
		return 0, fmt.Errorf("store: mark dependents of %d: %w", addressID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountMessages returns the number of messages by state, for status output.
func (s *Store) CountMessages(ctx context.Context) (total, unscored, pendingUpdate int64, err error) {
	err = s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN score_version < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN need_update > 0 THEN 1 ELSE 0 END), 0)
		FROM email_messages`, model.ScoringVersion).Scan(&total, &unscored, &pendingUpdate)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("store: count messages: %w", err)
	}
	return total, unscored, pendingUpdate, nil
}

// MessagesNeedingQuickScore returns unscored messages that never received a
// provisional score, newest first.
func (s *Store) MessagesNeedingQuickScore(ctx context.Context, count int) ([]*model.EmailMessage, error) {
	out, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM email_messages
		 WHERE score_version = 0 AND score = 0 ORDER BY date_received DESC, id DESC LIMIT ?`, count)
	if err != nil {
		return nil, fmt.Errorf("store: messages needing quick score: %w", err)
	}
	return out, nil
}

// SetMessageIndexVersion records the document version written for a message.
func (s *Store) SetMessageIndexVersion(ctx context.Context, id int64, version int) error {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE email_messages SET index_version = ? WHERE id = ?`, version, id); err != nil {
		return fmt.Errorf("store: set message index version %d: %w", id, err)
	}
	return nil
}
