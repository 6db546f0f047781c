package brain

import (
	"context"

	"github.com/ashita-ai/omomi/internal/index"
	"github.com/ashita-ai/omomi/internal/model"
	"github.com/ashita-ai/omomi/internal/scheduler"
)

// Names of the built-in work sources. They key the Sources override map.
const (
	SourceQuickScore       = "quick score messages"
	SourceAnalyzeMessages  = "analyze messages"
	SourceAnalyzeAddresses = "analyze addresses"
	SourceUpdateMessages   = "update messages"
	SourceUpdateAddresses  = "update addresses"
	SourceIndexMessages    = "index messages"
	SourceIndexContacts    = "index contacts"
)

type sourceSpec struct {
	name     string
	defaults SourceConfig
	build    func(chunk int) scheduler.Source
}

// sourceTable lists the sources in registration order, which breaks ties
// between slots of equal fractional order.
func (s *Service) sourceTable() []sourceSpec {
	return []sourceSpec{
		{SourceQuickScore, SourceConfig{Weight: 2, Chunk: 10}, func(chunk int) scheduler.Source {
			return scheduler.NewSource(s.store.MessagesNeedingQuickScore, s.quickScoreItem, chunk)
		}},
		{SourceAnalyzeMessages, SourceConfig{Weight: 1, Chunk: 5}, func(chunk int) scheduler.Source {
			return scheduler.NewSource(s.store.MessagesNeedingAnalysis, s.analyzeMessageItem, chunk)
		}},
		{SourceAnalyzeAddresses, SourceConfig{Weight: 1, Chunk: 5}, func(chunk int) scheduler.Source {
			return scheduler.NewSource(s.store.AddressesNeedingAnalysis, s.analyzeAddressItem, chunk)
		}},
		{SourceUpdateMessages, SourceConfig{Weight: 1, Chunk: 5}, func(chunk int) scheduler.Source {
			return scheduler.NewSource(s.store.MessagesNeedingUpdate, s.updateMessageItem, chunk)
		}},
		{SourceUpdateAddresses, SourceConfig{Weight: 1, Chunk: 5}, func(chunk int) scheduler.Source {
			return scheduler.NewSource(s.store.AddressesNeedingUpdate, s.updateAddressItem, chunk)
		}},
		{SourceIndexMessages, SourceConfig{Weight: 1, Chunk: 5}, func(chunk int) scheduler.Source {
			return scheduler.NewSource(s.store.MessagesNeedingIndexing, s.indexMessageItem, chunk)
		}},
		{SourceIndexContacts, SourceConfig{Weight: 2, Chunk: 5}, func(chunk int) scheduler.Source {
			return scheduler.NewSource(s.store.ContactsNeedingIndexing, s.indexContactItem, chunk)
		}},
	}
}

// registerSources registers every built-in source. An override with weight
// 0 disables a source.
func (s *Service) registerSources() error {
	for _, src := range s.sourceTable() {
		sc := src.defaults
		if o, ok := s.cfg.Sources[src.name]; ok {
			if o.Weight == 0 {
				s.logger.Info("brain: source disabled", "source", src.name)
				continue
			}
			sc.Weight = o.Weight
			if o.Chunk > 0 {
				sc.Chunk = o.Chunk
			}
		}
		if err := s.sched.Register(src.name, src.build(sc.Chunk), sc.Weight); err != nil {
			return err
		}
	}
	s.sched.Initialize()
	return nil
}

// The item processors return false to abandon the rest of the chunk, so
// the next refill reads fresh rows.

func (s *Service) quickScoreItem(ctx context.Context, m *model.EmailMessage) bool {
	if err := s.quickScore(ctx, m.ID); err != nil {
		s.logger.Warn("brain: quick score", "message_id", m.ID, "error", err)
		return false
	}
	return true
}

func (s *Service) analyzeMessageItem(ctx context.Context, m *model.EmailMessage) bool {
	if err := s.analyzeMessage(ctx, m.ID); err != nil {
		s.logger.Warn("brain: analyze message", "message_id", m.ID, "error", err)
		return false
	}
	return true
}

func (s *Service) analyzeAddressItem(ctx context.Context, a *model.EmailAddress) bool {
	if err := s.analyzeAddress(ctx, a.ID); err != nil {
		s.logger.Warn("brain: analyze address", "address_id", a.ID, "error", err)
		return false
	}
	return true
}

func (s *Service) updateMessageItem(ctx context.Context, m *model.EmailMessage) bool {
	if err := s.rescoreMessage(ctx, m.ID); err != nil {
		s.logger.Warn("brain: update message score", "message_id", m.ID, "error", err)
		return false
	}
	return true
}

func (s *Service) updateAddressItem(ctx context.Context, a *model.EmailAddress) bool {
	if err := s.rescoreAddress(ctx, a.ID, true); err != nil {
		s.logger.Warn("brain: update address score", "address_id", a.ID, "error", err)
		return false
	}
	return true
}

func (s *Service) indexMessageItem(ctx context.Context, m *model.EmailMessage) bool {
	ok := false
	err := s.withIndex(ctx, func(set *index.OpenedSet) error {
		var err error
		ok, err = s.indexMessageByID(ctx, set, m.ID)
		return err
	})
	if err != nil {
		s.logger.Warn("brain: index message", "message_id", m.ID, "error", err)
		return false
	}
	return ok
}

func (s *Service) indexContactItem(ctx context.Context, c *model.Contact) bool {
	ok := false
	err := s.withIndex(ctx, func(set *index.OpenedSet) error {
		var err error
		ok, err = s.indexContactByID(ctx, set, c.ID)
		return err
	})
	if err != nil {
		s.logger.Warn("brain: index contact", "contact_id", c.ID, "error", err)
		return false
	}
	return ok
}
