package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// IndexDocumentRow is one row of index_documents.
type IndexDocumentRow struct {
	AccountID int64
	Kind      string
	ObjectID  int64
	Content   string
	Keywords  []string
	Fields    map[string][]string
	Embedding pgvector.Vector
}

// IndexHit is one similarity search result.
type IndexHit struct {
	Kind       string
	ObjectID   int64
	Similarity float64
}

// UpsertIndexDocuments writes rows in one transaction. A row replaces any
// earlier row with the same (account, kind, object).
func (db *DB) UpsertIndexDocuments(ctx context.Context, rows []IndexDocumentRow) error {
	if len(rows) == 0 {
		return nil
	}
	err := WithRetry(ctx, 3, 10*time.Millisecond, func() error {
		return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for _, r := range rows {
				keywords := r.Keywords
				if keywords == nil {
					keywords = []string{}
				}
				fields := r.Fields
				if fields == nil {
					fields = map[string][]string{}
				}
				batch.Queue(
					`INSERT INTO index_documents (account_id, kind, object_id, content, keywords, fields, embedding)
					 VALUES ($1, $2, $3, $4, $5, $6, $7)
					 ON CONFLICT (account_id, kind, object_id) DO UPDATE
					 SET content = EXCLUDED.content, keywords = EXCLUDED.keywords,
					     fields = EXCLUDED.fields, embedding = EXCLUDED.embedding, indexed_at = now()`,
					r.AccountID, r.Kind, r.ObjectID, r.Content, keywords, fields, r.Embedding,
				)
			}
			return tx.SendBatch(ctx, batch).Close()
		})
	})
	if err != nil {
		return fmt.Errorf("storage: upsert %d index documents: %w", len(rows), err)
	}
	return nil
}

// DeleteIndexDocument removes a row. Deleting a missing row is not an error.
func (db *DB) DeleteIndexDocument(ctx context.Context, accountID int64, kind string, objectID int64) error {
	if _, err := db.pool.Exec(ctx,
		`DELETE FROM index_documents WHERE account_id = $1 AND kind = $2 AND object_id = $3`,
		accountID, kind, objectID,
	); err != nil {
		return fmt.Errorf("storage: delete index document %s:%d: %w", kind, objectID, err)
	}
	return nil
}

// SearchIndexDocuments returns an account's documents nearest to embedding
// by cosine distance, best first.
func (db *DB) SearchIndexDocuments(ctx context.Context, accountID int64, embedding pgvector.Vector, limit int) ([]IndexHit, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT kind, object_id, 1 - (embedding <=> $2) AS similarity
		 FROM index_documents
		 WHERE account_id = $1
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		accountID, embedding, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: search index documents: %w", err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (IndexHit, error) {
		var h IndexHit
		err := row.Scan(&h.Kind, &h.ObjectID, &h.Similarity)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan index hits: %w", err)
	}
	return hits, nil
}

// CountIndexDocuments returns how many documents an account has indexed.
func (db *DB) CountIndexDocuments(ctx context.Context, accountID int64) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM index_documents WHERE account_id = $1`, accountID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count index documents: %w", err)
	}
	return n, nil
}
