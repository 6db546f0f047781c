package index

import "sync"

// batches tracks open write transactions and their pending documents.
// Shared by the backends.
type batches struct {
	mu   sync.Mutex
	open map[int64][]Document
}

func newBatches() batches {
	return batches{open: make(map[int64][]Document)}
}

func (b *batches) begin(accountID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.open[accountID]; ok {
		return false
	}
	b.open[accountID] = []Document{}
	return true
}

func (b *batches) add(doc Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending, ok := b.open[doc.AccountID]
	if !ok {
		return ErrNoTransaction
	}
	// A later add of the same key supersedes the earlier one.
	for i := range pending {
		if pending[i].Kind == doc.Kind && pending[i].ID == doc.ID {
			pending[i] = doc
			return nil
		}
	}
	b.open[doc.AccountID] = append(pending, doc)
	return nil
}

// end closes the transaction and hands back its batch. ok is false when
// none was open.
func (b *batches) end(accountID int64) ([]Document, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending, ok := b.open[accountID]
	delete(b.open, accountID)
	return pending, ok
}

// drop discards a pending add so a remove issued inside the transaction
// is not undone by the commit.
func (b *batches) drop(accountID int64, kind Kind, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := b.open[accountID]
	for i := range pending {
		if pending[i].Kind == kind && pending[i].ID == id {
			b.open[accountID] = append(pending[:i], pending[i+1:]...)
			return
		}
	}
}
