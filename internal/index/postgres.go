package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/omomi/internal/storage"
)

// PostgresDims is the embedding width of the index_documents table.
const PostgresDims = 256

// Hit is one search result.
type Hit struct {
	Kind  Kind    `json:"kind"`
	ID    int64   `json:"object_id"`
	Score float64 `json:"score"`
}

// Searcher is implemented by backends that can rank an account's documents
// against free text.
type Searcher interface {
	Search(ctx context.Context, accountID int64, query string, limit int) ([]Hit, error)
}

// Postgres keeps documents in index_documents with their hashed term
// vector in a pgvector column.
type Postgres struct {
	db     *storage.DB
	logger *slog.Logger
	txn    batches
}

// NewPostgres returns a backend on db. The vector migrations must have run.
func NewPostgres(db *storage.DB, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger, txn: newBatches()}
}

func (p *Postgres) OpenWriteTransaction(accountID int64) bool {
	return p.txn.begin(accountID)
}

func (p *Postgres) AddDocument(_ context.Context, doc Document) (int, error) {
	if err := p.txn.add(doc); err != nil {
		return 0, err
	}
	return doc.Size(), nil
}

// CloseWriteTransaction writes the batch in one database transaction.
func (p *Postgres) CloseWriteTransaction(ctx context.Context, accountID int64) error {
	pending, ok := p.txn.end(accountID)
	if !ok {
		return ErrNoTransaction
	}
	rows := make([]storage.IndexDocumentRow, len(pending))
	for i, d := range pending {
		rows[i] = storage.IndexDocumentRow{
			AccountID: d.AccountID,
			Kind:      string(d.Kind),
			ObjectID:  d.ID,
			Content:   d.Content,
			Keywords:  d.Keywords,
			Fields:    d.Fields,
			Embedding: pgvector.NewVector(TermVector(d.Keywords, d.Content, PostgresDims)),
		}
	}
	if err := p.db.UpsertIndexDocuments(ctx, rows); err != nil {
		return fmt.Errorf("index: postgres commit account %d: %w", accountID, err)
	}
	return nil
}

func (p *Postgres) RemoveDocument(ctx context.Context, accountID int64, kind Kind, id int64) error {
	p.txn.drop(accountID, kind, id)
	if err := p.db.DeleteIndexDocument(ctx, accountID, string(kind), id); err != nil {
		return fmt.Errorf("index: postgres delete %s: %w", Key(kind, id), err)
	}
	return nil
}

// Search ranks the account's documents by cosine similarity of term
// vectors.
func (p *Postgres) Search(ctx context.Context, accountID int64, query string, limit int) ([]Hit, error) {
	vec := pgvector.NewVector(TermVector(nil, query, PostgresDims))
	rows, err := p.db.SearchIndexDocuments(ctx, accountID, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("index: postgres search: %w", err)
	}
	hits := make([]Hit, len(rows))
	for i, r := range rows {
		hits[i] = Hit{Kind: Kind(r.Kind), ID: r.ObjectID, Score: r.Similarity}
	}
	return hits, nil
}
