package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// OpenedSet lazily opens one write transaction per account for the length
// of a batch of work. Cleanup must run when the batch ends, including when
// it ends in a panic, so callers defer it.
type OpenedSet struct {
	w      Writer
	logger *slog.Logger
	open   map[int64]struct{}
}

// NewOpenedSet returns an empty set over w.
func NewOpenedSet(w Writer, logger *slog.Logger) *OpenedSet {
	return &OpenedSet{w: w, logger: logger, open: make(map[int64]struct{})}
}

// Get ensures the account's write transaction is open. It returns false if
// another holder already has it.
func (s *OpenedSet) Get(accountID int64) bool {
	if _, ok := s.open[accountID]; ok {
		return true
	}
	if !s.w.OpenWriteTransaction(accountID) {
		s.logger.Warn("index: write transaction already held", "account_id", accountID)
		return false
	}
	s.open[accountID] = struct{}{}
	return true
}

// Release commits and forgets the account's transaction if this set holds it.
func (s *OpenedSet) Release(ctx context.Context, accountID int64) error {
	if _, ok := s.open[accountID]; !ok {
		return nil
	}
	delete(s.open, accountID)
	if err := s.w.CloseWriteTransaction(ctx, accountID); err != nil {
		return fmt.Errorf("index: release account %d: %w", accountID, err)
	}
	return nil
}

// Cleanup releases every held transaction.
func (s *OpenedSet) Cleanup(ctx context.Context) error {
	var errs []error
	for accountID := range s.open {
		if err := s.Release(ctx, accountID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of held transactions.
func (s *OpenedSet) Len() int {
	return len(s.open)
}
