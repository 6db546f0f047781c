package brain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/glean"
	"github.com/ashita-ai/omomi/internal/model"
	"github.com/ashita-ai/omomi/internal/notify"
	"github.com/ashita-ai/omomi/internal/scoring"
	"github.com/ashita-ai/omomi/internal/store"
	"github.com/ashita-ai/omomi/internal/timevariance"
)

// Every action reloads its object inside the transaction. Buffered source
// items may be stale by the time they run.

func lookupAccount(ctx context.Context, tx *store.Store, id int64) (*model.Account, error) {
	a, err := tx.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func lookupSender(ctx context.Context, tx *store.Store, m *model.EmailMessage) (*model.EmailAddress, error) {
	if m.FromAddressID == 0 {
		return nil, nil
	}
	a, err := tx.GetAddress(ctx, m.FromAddressID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

// scorer binds the reply lookup to tx. The store has a single connection,
// so nothing inside a transaction may query outside it.
func (s *Service) scorer(ctx context.Context, tx *store.Store) *scoring.MessageScorer {
	return scoring.NewMessageScorer(s.cfg.Weights, func(accountID int64, messageID string) (*model.EmailMessage, bool) {
		m, err := tx.GetMessageByMessageID(ctx, accountID, messageID)
		if err != nil {
			return nil, false
		}
		return m, true
	})
}

// classify scores an analyzed message and returns the machines still
// running at the time of scoring.
func (s *Service) classify(sc *scoring.MessageScorer, in *scoring.MessageInput, acct *model.Account) (float64, *timevariance.List, error) {
	now := s.clock.Now()
	all := s.messageVariance(in.Message)
	score, err := sc.Classify(in, acct, all.Adjustment(now))
	if errors.Is(err, scoring.ErrUnknownSender) {
		s.logger.Debug("brain: message sender unknown", "message_id", in.Message.ID)
		score, err = 0, nil
	}
	return score, all.FilterStillRunning(now), err
}

func varianceMark(running *timevariance.List) model.VarianceMark {
	if running.Len() == 0 {
		return model.VarianceDone
	}
	return model.VarianceNone
}

// quickScore gives an unscored message its provisional score.
func (s *Service) quickScore(ctx context.Context, id int64) error {
	scored := false
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		m, err := tx.GetMessage(ctx, id)
		if err != nil {
			return err
		}
		if m.ScoreVersion != 0 || m.Score != 0 {
			return nil
		}
		acct, err := lookupAccount(ctx, tx, m.AccountID)
		if err != nil {
			return err
		}
		score, err := s.scorer(ctx, tx).Classify(&scoring.MessageInput{Message: m}, acct, 1)
		if err != nil {
			return err
		}
		m.Score = score
		scored = true
		return tx.UpdateMessage(ctx, m)
	})
	if err != nil {
		return fmt.Errorf("brain: quick score %d: %w", id, err)
	}
	if scored {
		s.notifier.Notify(notify.MessageScoresUpdated)
	}
	return nil
}

// analyzeMessage brings a message up to ScoringVersion one step at a time,
// gleaning it first if needed, and starts its time variance.
func (s *Service) analyzeMessage(ctx context.Context, id int64) error {
	var (
		m       *model.EmailMessage
		running *timevariance.List
		gleaned glean.Result
	)
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		var err error
		m, err = tx.GetMessage(ctx, id)
		if err != nil {
			return err
		}
		if m.ScoreVersion >= model.ScoringVersion {
			return nil
		}
		acct, err := lookupAccount(ctx, tx, m.AccountID)
		if err != nil {
			return err
		}
		if m.GleanPhase == model.NotGleaned {
			if gleaned, err = glean.Glean(ctx, tx, acct, m); err != nil {
				return err
			}
		}
		from, err := lookupSender(ctx, tx, m)
		if err != nil {
			return err
		}

		if m.ScoreVersion < 1 {
			if from != nil && !m.IsFromMe {
				from.Stats.EmailsReceived++
				if m.IsRead {
					from.Stats.EmailsRead++
					m.ScoreIsRead = true
				}
				from.NeedUpdate++
				if err := tx.UpdateAddress(ctx, from); err != nil {
					return err
				}
			}
			if m.IsFromMe {
				if err := countSent(ctx, tx, m); err != nil {
					return err
				}
			}
			m.ScoreVersion = 1
		}

		if m.ScoreVersion < 2 {
			if from != nil && m.IsReplied && !m.ScoreIsReplied {
				if m.ScoreIsRead {
					from.Stats.EmailsRead--
				}
				from.Stats.EmailsReplied++
				m.ScoreIsReplied = true
				from.NeedUpdate++
				if err := tx.UpdateAddress(ctx, from); err != nil {
					return err
				}
			}
			m.ScoreVersion = 2
		}

		sc := s.scorer(ctx, tx)
		in := &scoring.MessageInput{Message: m, Sender: from}
		sc.Analyze(in)
		m.ScoreVersion = model.ScoringVersion
		score, live, err := s.classify(sc, in, acct)
		if err != nil {
			return err
		}
		running = live
		m.Score = score
		m.NeedUpdate = 0
		m.VarianceMark = varianceMark(live)
		return tx.UpdateMessage(ctx, m)
	})
	if err != nil {
		return fmt.Errorf("brain: analyze message %d: %w", id, err)
	}
	if running == nil {
		return nil
	}
	s.startVariance(m, running)
	s.notifier.Notify(notify.MessageScoresUpdated)
	if gleaned.ContactsCreated > 0 {
		s.notifier.Notify(notify.ContactSetChanged)
	}
	return nil
}

// countSent credits every To recipient of a message the account sent.
func countSent(ctx context.Context, tx *store.Store, m *model.EmailMessage) error {
	for _, mb := range model.ParseAddressList(m.To) {
		a, _, err := tx.GetOrCreateAddress(ctx, m.AccountID, mb.Address)
		if err != nil {
			return err
		}
		a.Stats.EmailsSent++
		a.NeedUpdate++
		if err := tx.UpdateAddress(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// analyzeAddress gives a new address its first score.
func (s *Service) analyzeAddress(ctx context.Context, id int64) error {
	analyzed := false
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		a, err := tx.GetAddress(ctx, id)
		if err != nil {
			return err
		}
		if a.ScoreVersion >= model.ScoringVersion {
			return nil
		}
		a.ScoreVersion = model.ScoringVersion
		a.Score = a.Classify()
		a.NeedUpdate = 0
		analyzed = true
		return tx.UpdateAddress(ctx, a)
	})
	if err != nil {
		return fmt.Errorf("brain: analyze address %d: %w", id, err)
	}
	if analyzed {
		s.notifier.Notify(notify.AddressScoresUpdated)
	}
	return nil
}

// updateMessageScore recomputes the score of an analyzed message and writes
// it when the score, the variance mark, or the update mark changed.
func (s *Service) updateMessageScore(ctx context.Context, tx *store.Store, m *model.EmailMessage) (bool, *timevariance.List, error) {
	if m.ScoreVersion != model.ScoringVersion {
		return false, nil, nil
	}
	acct, err := lookupAccount(ctx, tx, m.AccountID)
	if err != nil {
		return false, nil, err
	}
	from, err := lookupSender(ctx, tx, m)
	if err != nil {
		return false, nil, err
	}
	score, running, err := s.classify(s.scorer(ctx, tx), &scoring.MessageInput{Message: m, Sender: from}, acct)
	if err != nil {
		return false, nil, err
	}
	mark := varianceMark(running)
	changed := score != m.Score
	if !changed && mark == m.VarianceMark && !m.ShouldUpdate() {
		return false, running, nil
	}
	m.Score = score
	m.VarianceMark = mark
	m.NeedUpdate = 0
	if err := tx.UpdateMessage(ctx, m); err != nil {
		return false, nil, err
	}
	return changed, running, nil
}

// updateAddressScore recomputes an analyzed address. With markDependents,
// messages from the address are marked for a rescore when the score moved.
func updateAddressScore(ctx context.Context, tx *store.Store, a *model.EmailAddress, markDependents bool) (bool, error) {
	if a.ScoreVersion != model.ScoringVersion {
		return false, nil
	}
	score := a.Classify()
	changed := score != a.Score
	if changed || a.ShouldUpdate() {
		a.Score = score
		a.NeedUpdate = 0
		if err := tx.UpdateAddress(ctx, a); err != nil {
			return false, err
		}
	}
	if markDependents && changed {
		if _, err := tx.MarkDependentMessages(ctx, a.ID); err != nil {
			return false, err
		}
	}
	return changed, nil
}

func (s *Service) rescoreMessage(ctx context.Context, id int64) error {
	changed := false
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		m, err := tx.GetMessage(ctx, id)
		if err != nil {
			return err
		}
		changed, _, err = s.updateMessageScore(ctx, tx, m)
		return err
	})
	if err != nil {
		return fmt.Errorf("brain: rescore message %d: %w", id, err)
	}
	if changed {
		s.notifier.Notify(notify.MessageScoresUpdated)
	}
	return nil
}

func (s *Service) rescoreAddress(ctx context.Context, id int64, markDependents bool) error {
	changed := false
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		a, err := tx.GetAddress(ctx, id)
		if err != nil {
			return err
		}
		changed, err = updateAddressScore(ctx, tx, a, markDependents)
		return err
	})
	if err != nil {
		return fmt.Errorf("brain: rescore address %d: %w", id, err)
	}
	if changed {
		s.notifier.Notify(notify.AddressScoresUpdated)
	}
	return nil
}

func (s *Service) updateAddressScoreEvent(ctx context.Context, e event.UpdateAddressScore) error {
	return s.rescoreAddress(ctx, e.AddressID, e.ForceUpdateDependentMessages)
}

// updateMessageScoreEvent applies an optional user action, then rescores
// the message.
func (s *Service) updateMessageScoreEvent(ctx context.Context, e event.UpdateMessageScore) error {
	var changed, senderChanged bool
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		m, err := tx.GetMessage(ctx, e.MessageID)
		if err != nil {
			return err
		}
		if e.UserAction != 0 {
			if senderChanged, err = applyUserAction(ctx, tx, m, e.UserAction); err != nil {
				return err
			}
			if m.ScoreVersion != model.ScoringVersion {
				return tx.UpdateMessage(ctx, m)
			}
		}
		changed, _, err = s.updateMessageScore(ctx, tx, m)
		return err
	})
	if err != nil {
		return fmt.Errorf("brain: update message score %d: %w", e.MessageID, err)
	}
	if changed {
		s.notifier.Notify(notify.MessageScoresUpdated)
	}
	if senderChanged {
		s.notifier.Notify(notify.AddressScoresUpdated)
	}
	return nil
}

// applyUserAction records a hot (+1) or not hot (-1) verdict on the message
// and its sender, rescores the sender and marks its messages for update.
func applyUserAction(ctx context.Context, tx *store.Store, m *model.EmailMessage, action int) (bool, error) {
	if action > 0 {
		action = 1
	} else {
		action = -1
	}
	m.UserAction = action
	m.NeedUpdate++

	from, err := lookupSender(ctx, tx, m)
	if err != nil || from == nil {
		return false, err
	}
	if action > 0 {
		from.Stats.MarkedHot++
	} else {
		from.Stats.MarkedNotHot++
	}
	score := from.Classify()
	changed := score != from.Score
	from.Score = score
	from.NeedUpdate = 0
	if err := tx.UpdateAddress(ctx, from); err != nil {
		return false, err
	}
	if _, err := tx.MarkDependentMessages(ctx, from.ID); err != nil {
		return false, err
	}
	return changed, nil
}

// messageFlags re-evaluates the time variance of a message whose flag
// dates changed and rescores it.
func (s *Service) messageFlags(ctx context.Context, e event.MessageFlags) error {
	var (
		m       *model.EmailMessage
		running *timevariance.List
		changed bool
	)
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		var err error
		m, err = tx.GetMessage(ctx, e.MessageID)
		if err != nil {
			return err
		}
		changed, running, err = s.updateMessageScore(ctx, tx, m)
		return err
	})
	if err != nil {
		return fmt.Errorf("brain: message flags %d: %w", e.MessageID, err)
	}
	if running != nil {
		s.startVariance(m, running)
	}
	if changed {
		s.notifier.Notify(notify.MessageScoresUpdated)
	}
	return nil
}

// initialRIC seeds unscored addresses of the account's RIC contacts with
// rank / max rank.
func (s *Service) initialRIC(ctx context.Context, e event.InitialRIC) error {
	updated := 0
	err := s.store.RunInTx(ctx, func(tx *store.Store) error {
		contacts, err := tx.RICContacts(ctx, e.AccountID)
		if err != nil {
			return err
		}
		if len(contacts) == 0 {
			return nil
		}
		maxRank := contacts[0].WeightedRank
		for _, c := range contacts {
			score := 0.0
			if maxRank > 0 {
				score = float64(c.WeightedRank) / float64(maxRank)
			}
			for _, addr := range c.EmailAddresses {
				a, _, err := tx.GetOrCreateAddress(ctx, e.AccountID, addr)
				if err != nil {
					return err
				}
				if a.ScoreVersion > 0 {
					continue
				}
				a.Score = score
				a.ScoreVersion = model.ScoringVersion
				if err := tx.UpdateAddress(ctx, a); err != nil {
					return err
				}
				updated++
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("brain: initial ric for account %d: %w", e.AccountID, err)
	}
	s.logger.Info("brain: initial ric scores", "account_id", e.AccountID, "addresses", updated)
	if updated > 0 {
		s.notifier.Notify(notify.AddressScoresUpdated)
	}
	return nil
}

// gleanAccount gleans up to Count messages of an account.
func (s *Service) gleanAccount(ctx context.Context, e event.StateMachine) error {
	count := e.Count
	if count <= 0 {
		count = s.cfg.GleanCount
	}
	msgs, err := s.store.MessagesNeedingGleaning(ctx, e.AccountID, count)
	if err != nil {
		return fmt.Errorf("brain: glean account %d: %w", e.AccountID, err)
	}
	var total glean.Result
	for _, item := range msgs {
		var res glean.Result
		err := s.store.RunInTx(ctx, func(tx *store.Store) error {
			m, err := tx.GetMessage(ctx, item.ID)
			if err != nil {
				return err
			}
			if m.GleanPhase != model.NotGleaned {
				return nil
			}
			acct, err := lookupAccount(ctx, tx, m.AccountID)
			if err != nil {
				return err
			}
			if res, err = glean.Glean(ctx, tx, acct, m); err != nil {
				return err
			}
			return tx.UpdateMessage(ctx, m)
		})
		if err != nil {
			return fmt.Errorf("brain: glean message %d: %w", item.ID, err)
		}
		total.Add(res)
	}
	s.logger.Debug("brain: gleaned", "account_id", e.AccountID, "messages", len(msgs),
		"addresses", total.AddressesCreated, "contacts", total.ContactsCreated)
	if total.ContactsCreated > 0 {
		s.notifier.Notify(notify.ContactSetChanged)
	}
	return nil
}
