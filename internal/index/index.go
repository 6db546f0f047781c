// Package index is the full-text index collaborator: per-account write
// transactions that batch document adds, plus removal by object key.
package index

import (
	"context"
	"errors"
	"strconv"
)

// ErrNoTransaction is returned by AddDocument when the document's account
// has no open write transaction.
var ErrNoTransaction = errors.New("index: no open write transaction")

// Kind distinguishes document types within an account's index.
type Kind string

const (
	KindMessage Kind = "message"
	KindContact Kind = "contact"
)

// Document is one indexable object.
type Document struct {
	AccountID int64
	Kind      Kind
	ID        int64
	// Fields are exact-match attributes (addresses, names, dates).
	Fields   map[string][]string
	Content  string
	Keywords []string
}

// Key identifies the document within its account.
func (d Document) Key() string {
	return Key(d.Kind, d.ID)
}

// Key formats a document key.
func Key(kind Kind, id int64) string {
	return string(kind) + ":" + strconv.FormatInt(id, 10)
}

// Size approximates the indexed bytes of a document.
func (d Document) Size() int {
	n := len(d.Content)
	for _, kw := range d.Keywords {
		n += len(kw)
	}
	for k, vs := range d.Fields {
		for _, v := range vs {
			n += len(k) + len(v)
		}
	}
	return n
}

// Writer is implemented by every index backend. At most one write
// transaction may be open per account.
type Writer interface {
	// OpenWriteTransaction returns false if a transaction for the account
	// is already open.
	OpenWriteTransaction(accountID int64) bool
	// CloseWriteTransaction commits the account's batched adds.
	CloseWriteTransaction(ctx context.Context, accountID int64) error
	// AddDocument batches doc into its account's open transaction and
	// returns the bytes indexed.
	AddDocument(ctx context.Context, doc Document) (int, error)
	// RemoveDocument deletes a document immediately. Removing an absent
	// document is not an error.
	RemoveDocument(ctx context.Context, accountID int64, kind Kind, id int64) error
}
