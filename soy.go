package counsel

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zoobzio/astql/postgres"
	"github.com/zoobzio/soy"
)

// Turn is one Append call persisted by SoyMemory. Storing the whole batch in
// one row makes each append a single insert.
type Turn struct {
	ID             string       `db:"id" type:"uuid" constraints:"primarykey" default:"gen_random_uuid()"`
	ConversationID string       `db:"conversation_id" type:"text" constraints:"notnull"`
	Messages       TurnMessages `db:"messages" type:"jsonb" constraints:"notnull"`
	CreatedAt      time.Time    `db:"created_at" type:"timestamptz" constraints:"notnull"`
}

// TurnMessages is the jsonb payload of a turn.
type TurnMessages []Message

// Scan implements sql.Scanner.
func (t *TurnMessages) Scan(src any) error {
	var raw []byte
	switch val := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		raw = val
	case string:
		raw = []byte(val)
	default:
		return fmt.Errorf("cannot scan %T into TurnMessages", src)
	}
	return json.Unmarshal(raw, (*[]Message)(t))
}

// Value implements driver.Valuer.
func (t TurnMessages) Value() (driver.Value, error) {
	b, err := json.Marshal([]Message(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// SoyMemorySchema creates the turns table.
const SoyMemorySchema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	conversation_id TEXT NOT NULL,
	messages JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_turns_conversation
	ON conversation_turns (conversation_id, created_at);
`

// SoyMemory implements Memory on PostgreSQL using soy for persistence.
type SoyMemory struct {
	turns *soy.Soy[Turn]
	db    *sqlx.DB
}

// NewSoyMemory creates a new soy-backed Memory implementation.
func NewSoyMemory(db *sqlx.DB) (*SoyMemory, error) {
	turns, err := soy.New[Turn](db, "conversation_turns", postgres.New())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize conversation_turns table: %w", err)
	}
	return &SoyMemory{turns: turns, db: db}, nil
}

// Migrate creates the table if it does not exist.
func (m *SoyMemory) Migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, SoyMemorySchema); err != nil {
		return fmt.Errorf("failed to migrate conversation_turns: %w", err)
	}
	return nil
}

// Load implements Memory. Every turn holds at least one message, so the last
// lastN turns always cover the last lastN messages.
func (m *SoyMemory) Load(ctx context.Context, conversationID string, lastN int) ([]Message, error) {
	q := m.turns.Query().
		Where("conversation_id", "=", "conversation_id").
		OrderBy("created_at", "desc")
	if lastN > 0 {
		q = q.Limit(lastN)
	}
	turns, err := q.Exec(ctx, map[string]any{"conversation_id": conversationID})
	if err != nil {
		return nil, fmt.Errorf("%w: load conversation %q: %w", ErrPersistence, conversationID, err)
	}

	slices.Reverse(turns)
	var all []Message
	for _, t := range turns {
		all = append(all, t.Messages...)
	}
	return lastMessages(all, lastN), nil
}

// Append implements Memory.
func (m *SoyMemory) Append(ctx context.Context, conversationID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	_, err := m.turns.Insert().Exec(ctx, &Turn{
		ConversationID: conversationID,
		Messages:       TurnMessages(messages),
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: insert turn: %w", ErrPersistence, err)
	}
	return nil
}

// Forget removes a conversation. It is an administrative operation; the
// advisor chain never deletes history.
func (m *SoyMemory) Forget(ctx context.Context, conversationID string) error {
	_, err := m.turns.Remove().
		Where("conversation_id", "=", "conversation_id").
		Exec(ctx, map[string]any{"conversation_id": conversationID})
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (m *SoyMemory) Close() error {
	return m.db.Close()
}

// StoredDocument is a row of the pgvector document table.
type StoredDocument struct {
	ID        string    `db:"id" type:"uuid" constraints:"primarykey" default:"gen_random_uuid()"`
	Content   string    `db:"content" type:"text" constraints:"notnull"`
	Metadata  Metadata  `db:"metadata" type:"jsonb" default:"'{}'"`
	Embedding Vector    `db:"embedding" type:"vector"`
	CreatedAt time.Time `db:"created_at" type:"timestamptz" constraints:"notnull"`
}

// SoyVectorStoreSchema creates the documents table. The embedding column is
// unconstrained so any embedder dimension fits.
const SoyVectorStoreSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	content TEXT NOT NULL,
	metadata JSONB DEFAULT '{}',
	embedding VECTOR,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_metadata ON documents USING GIN (metadata);
`

// searchQuery filters by metadata containment before ranking by cosine
// distance, so TopK counts only matching documents.
const searchQuery = `
SELECT id, content, metadata, (1 - (embedding <=> $1::vector))::real AS score
FROM documents
WHERE embedding IS NOT NULL
  AND metadata @> $2::jsonb
  AND 1 - (embedding <=> $1::vector) >= $3
ORDER BY embedding <=> $1::vector ASC
LIMIT $4`

// SoyVectorStore implements VectorStore on PostgreSQL with pgvector.
type SoyVectorStore struct {
	documents *soy.Soy[StoredDocument]
	db        *sqlx.DB
	embedder  Embedder
}

// NewSoyVectorStore creates a pgvector-backed store.
func NewSoyVectorStore(db *sqlx.DB, embedder Embedder) (*SoyVectorStore, error) {
	documents, err := soy.New[StoredDocument](db, "documents", postgres.New())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize documents table: %w", err)
	}
	return &SoyVectorStore{documents: documents, db: db, embedder: embedder}, nil
}

// Migrate creates the extension and table if they do not exist.
func (s *SoyVectorStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, SoyVectorStoreSchema); err != nil {
		return fmt.Errorf("failed to migrate documents: %w", err)
	}
	return nil
}

// Add implements VectorStore.
func (s *SoyVectorStore) Add(ctx context.Context, docs ...Document) error {
	if s.embedder == nil {
		return ErrNoEmbedder
	}
	for _, doc := range docs {
		v, err := s.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("failed to embed document %q: %w", doc.ID, err)
		}
		doc = normalizeDocument(doc)
		if _, err := s.documents.Insert().Exec(ctx, &StoredDocument{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: v,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
	}
	return nil
}

// Get loads a stored document by id.
func (s *SoyVectorStore) Get(ctx context.Context, id string) (*StoredDocument, error) {
	doc, err := s.documents.Select().
		Where("id", "=", "id").
		Exec(ctx, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// Delete removes a stored document.
func (s *SoyVectorStore) Delete(ctx context.Context, id string) error {
	_, err := s.documents.Remove().
		Where("id", "=", "id").
		Exec(ctx, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

type searchRow struct {
	ID       string   `db:"id"`
	Content  string   `db:"content"`
	Metadata Metadata `db:"metadata"`
	Score    float32  `db:"score"`
}

// Search implements VectorStore.
func (s *SoyVectorStore) Search(ctx context.Context, query Vector, opts SearchOptions) ([]RetrievedDocument, error) {
	filter, err := json.Marshal(map[string]string(opts.Filter))
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter: %w", err)
	}
	if opts.Filter == nil {
		filter = []byte("{}")
	}

	var rows []searchRow
	if err := s.db.SelectContext(ctx, &rows, searchQuery,
		query, string(filter), opts.SimilarityThreshold, opts.topK()); err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	results := make([]RetrievedDocument, len(rows))
	for i, r := range rows {
		results[i] = RetrievedDocument{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    r.Score,
		}
	}
	return results, nil
}

var (
	_ Memory      = (*SoyMemory)(nil)
	_ VectorStore = (*SoyVectorStore)(nil)
)
