package index

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Memory is an in-process index. Committed documents are searchable by
// keyword through Search.
type Memory struct {
	txn batches

	mu   sync.RWMutex
	docs map[int64]map[string]Document
}

// NewMemory returns an empty index.
func NewMemory() *Memory {
	return &Memory{txn: newBatches(), docs: make(map[int64]map[string]Document)}
}

func (m *Memory) OpenWriteTransaction(accountID int64) bool {
	return m.txn.begin(accountID)
}

func (m *Memory) CloseWriteTransaction(_ context.Context, accountID int64) error {
	pending, ok := m.txn.end(accountID)
	if !ok {
		return ErrNoTransaction
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.docs[accountID]
	if acct == nil {
		acct = make(map[string]Document)
		m.docs[accountID] = acct
	}
	for _, d := range pending {
		acct[d.Key()] = d
	}
	return nil
}

func (m *Memory) AddDocument(_ context.Context, doc Document) (int, error) {
	if err := m.txn.add(doc); err != nil {
		return 0, err
	}
	return doc.Size(), nil
}

func (m *Memory) RemoveDocument(_ context.Context, accountID int64, kind Kind, id int64) error {
	m.txn.drop(accountID, kind, id)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[accountID], Key(kind, id))
	return nil
}

// Get returns a committed document.
func (m *Memory) Get(accountID int64, kind Kind, id int64) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[accountID][Key(kind, id)]
	return d, ok
}

// Len returns the number of committed documents of an account.
func (m *Memory) Len(accountID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[accountID])
}

// Search returns the keys of committed documents whose keywords contain
// every term of query, sorted.
func (m *Memory) Search(accountID int64, query string) []string {
	terms := Tokenize(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key, d := range m.docs[accountID] {
		if containsAll(d, terms) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

func containsAll(d Document, terms []string) bool {
	for _, t := range terms {
		if !slices.Contains(d.Keywords, t) && !strings.Contains(strings.ToLower(d.Content), t) {
			return false
		}
	}
	return true
}
