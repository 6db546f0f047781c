package brain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/index"
	"github.com/ashita-ai/omomi/internal/model"
	"github.com/ashita-ai/omomi/internal/store"
)

// indexMessage writes the document of m through the account's write
// transaction. Junk is marked indexed without a document. It returns false
// when the account's transaction is held elsewhere. Add failures are logged
// and counted; the message is still marked so it is not retried forever.
func (s *Service) indexMessage(ctx context.Context, set *index.OpenedSet, m *model.EmailMessage) (bool, error) {
	if !set.Get(m.AccountID) {
		return false, nil
	}
	if !m.IsJunk {
		if m.IndexVersion > 0 {
			if err := s.index.RemoveDocument(ctx, m.AccountID, index.KindMessage, m.ID); err != nil {
				s.logger.Warn("brain: remove stale message document", "message_id", m.ID, "error", err)
			}
		}
		s.addDocument(ctx, index.MessageDocument(m))
	}
	if err := s.store.SetMessageIndexVersion(ctx, m.ID, model.CurrentIndexVersion); err != nil {
		return false, err
	}
	m.IndexVersion = model.CurrentIndexVersion
	return true, nil
}

func (s *Service) indexContact(ctx context.Context, set *index.OpenedSet, c *model.Contact) (bool, error) {
	if !set.Get(c.AccountID) {
		return false, nil
	}
	if c.IndexVersion > 0 {
		if err := s.index.RemoveDocument(ctx, c.AccountID, index.KindContact, c.ID); err != nil {
			s.logger.Warn("brain: remove stale contact document", "contact_id", c.ID, "error", err)
		}
	}
	s.addDocument(ctx, index.ContactDocument(c))
	if err := s.store.SetContactIndexVersion(ctx, c.ID, model.CurrentIndexVersion); err != nil {
		return false, err
	}
	c.IndexVersion = model.CurrentIndexVersion
	return true, nil
}

func (s *Service) addDocument(ctx context.Context, doc index.Document) {
	n, err := s.index.AddDocument(ctx, doc)
	if err != nil {
		s.failed.Add(1)
		s.metrics.failed.Add(ctx, 1)
		s.logger.Warn("brain: add document", "key", doc.Key(), "account_id", doc.AccountID, "error", err)
		return
	}
	s.metrics.indexBytes.Add(ctx, int64(n))
}

// indexMessageByID loads a message and indexes it if its document is stale.
func (s *Service) indexMessageByID(ctx context.Context, set *index.OpenedSet, id int64) (bool, error) {
	m, err := s.store.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if m.IndexVersion >= model.CurrentIndexVersion {
		return true, nil
	}
	return s.indexMessage(ctx, set, m)
}

func (s *Service) indexContactByID(ctx context.Context, set *index.OpenedSet, id int64) (bool, error) {
	c, err := s.store.GetContact(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if c.IndexVersion >= model.CurrentIndexVersion {
		return true, nil
	}
	return s.indexContact(ctx, set, c)
}

func objectKind(k event.ObjectKind) (index.Kind, error) {
	switch k {
	case event.ObjectMessage:
		return index.KindMessage, nil
	case event.ObjectContact:
		return index.KindContact, nil
	default:
		return "", fmt.Errorf("brain: unknown object kind %q", k)
	}
}

func (s *Service) unindex(ctx context.Context, e event.Unindex) error {
	kind, err := objectKind(e.ObjectKind)
	if err != nil {
		return err
	}
	if err := s.index.RemoveDocument(ctx, e.AccountID, kind, e.ObjectID); err != nil {
		return fmt.Errorf("brain: unindex %s: %w", index.Key(kind, e.ObjectID), err)
	}
	return nil
}

// reindex removes the document, then writes it again if the object still
// exists. The matching index source is reset afterwards so it refills from
// the store.
func (s *Service) reindex(ctx context.Context, e event.Reindex) error {
	kind, err := objectKind(e.ObjectKind)
	if err != nil {
		return err
	}
	if err := s.index.RemoveDocument(ctx, e.AccountID, kind, e.ObjectID); err != nil {
		return fmt.Errorf("brain: reindex %s: %w", index.Key(kind, e.ObjectID), err)
	}
	err = s.withIndex(ctx, func(set *index.OpenedSet) error {
		var ok bool
		switch kind {
		case index.KindMessage:
			m, err := s.store.GetMessage(ctx, e.ObjectID)
			if err != nil {
				return err
			}
			m.IndexVersion = 0
			ok, err = s.indexMessage(ctx, set, m)
			if err != nil {
				return err
			}
		case index.KindContact:
			c, err := s.store.GetContact(ctx, e.ObjectID)
			if err != nil {
				return err
			}
			c.IndexVersion = 0
			ok, err = s.indexContact(ctx, set, c)
			if err != nil {
				return err
			}
		}
		if !ok {
			return fmt.Errorf("brain: reindex %s: write transaction unavailable", index.Key(kind, e.ObjectID))
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Buffered rows of the matching source may predate this write.
	if kind == index.KindMessage {
		s.resetSource(SourceIndexMessages)
	} else {
		s.resetSource(SourceIndexContacts)
	}
	return nil
}

func (s *Service) resetSource(name string) {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	if err := s.sched.Reset(name); err != nil {
		s.logger.Debug("brain: reset source", "source", name, "error", err)
	}
}
