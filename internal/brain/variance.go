package brain

import (
	"context"
	"time"

	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/model"
	"github.com/ashita-ai/omomi/internal/timevariance"
)

// messageVariance evaluates the machines that apply to m, running or not.
// A meeting invite gets a single meeting machine; otherwise deadline and
// deference follow the flag dates and aging follows the received date.
// The machines are not started.
func (s *Service) messageVariance(m *model.EmailMessage) *timevariance.List {
	l := &timevariance.List{}
	desc := m.VarianceDescription()
	cb := s.varianceCallback(m.AccountID)
	add := func(t timevariance.Type, start time.Time) {
		p, ok := timevariance.PolicyFor(t)
		if !ok {
			return
		}
		l.Add(s.variance.NewMachine(p, desc, m.ID, start, cb))
	}

	if m.IsMeetingInvite() {
		add(timevariance.TypeMeeting, m.MeetingEnd)
		return l
	}
	if !m.FlagDue.IsZero() {
		add(timevariance.TypeDeadline, m.FlagDue)
	}
	if !m.FlagStart.IsZero() {
		add(timevariance.TypeDeference, m.FlagStart)
	}
	add(timevariance.TypeAging, m.DateReceived)
	return l
}

// varianceCallback routes a state change back onto the dispatcher as a
// score update.
func (s *Service) varianceCallback(accountID int64) timevariance.Callback {
	return func(_ int, messageID int64) {
		s.inbox.pushIfAbsent(event.UpdateMessageScore{AccountID: accountID, MessageID: messageID})
	}
}

// startVariance replaces the message's live machines with running.
func (s *Service) startVariance(m *model.EmailMessage, running *timevariance.List) {
	s.variance.StopList(m.VarianceDescription())
	for _, machine := range running.Machines() {
		machine.Start()
	}
}

// restartVariance re-evaluates every scored message whose variance is not
// done, a few at a time, by feeding flag events to the dispatcher.
func (s *Service) restartVariance(ctx context.Context) {
	batch := s.cfg.VarianceRestartBatch
	if batch <= 0 {
		batch = 8
	}
	var afterReceived, afterID int64
	restarted := 0
	for {
		msgs, err := s.store.VarianceCandidates(ctx, afterReceived, afterID, batch)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("brain: list time variance candidates", "error", err)
			}
			return
		}
		for _, m := range msgs {
			s.inbox.push(event.MessageFlags{AccountID: m.AccountID, MessageID: m.ID})
		}
		restarted += len(msgs)
		if len(msgs) < batch {
			break
		}
		last := msgs[len(msgs)-1]
		afterID = last.ID
		afterReceived = 0
		if !last.DateReceived.IsZero() {
			afterReceived = last.DateReceived.UnixMilli()
		}

		timer := time.NewTimer(s.cfg.VarianceRestartPause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	s.logger.Info("brain: time variance restarted", "messages", restarted)
}
