package retrieval

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/insight/internal/observability"
	"github.com/harun/insight/internal/tracing"
)

func init() {
	sqlite_vec.Auto()
}

// ErrNotBuilt is returned by Search before Build has completed.
var ErrNotBuilt = errors.New("index not built")

// Passage is one search hit.
type Passage struct {
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"` // cosine similarity
}

// DB is a sqlite database holding one or more corpus indices.
type DB struct {
	db *sql.DB
}

// OpenDB opens the index database at path (":memory:" for a transient one).
func OpenDB(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT NOT NULL,
			model_dim INTEGER NOT NULL,
			embedding BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (content_hash, model_dim)
		);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// IndexConfig configures one corpus index.
type IndexConfig struct {
	Corpus   string
	DB       *DB
	Embedder EmbeddingProvider
	Splitter *Splitter
	Logger   zerolog.Logger
}

// Index is a nearest-neighbour index over one corpus. It is built once and
// then serves concurrent searches.
type Index struct {
	name     string
	db       *sql.DB
	embedder EmbeddingProvider
	splitter *Splitter
	logger   zerolog.Logger

	mu     sync.RWMutex
	built  bool
	chunks int
}

// NewIndex creates the tables for cfg.Corpus if needed.
func NewIndex(cfg IndexConfig) (*Index, error) {
	if !corpusNamePattern.MatchString(cfg.Corpus) {
		return nil, fmt.Errorf("invalid corpus name %q", cfg.Corpus)
	}
	if cfg.DB == nil || cfg.Embedder == nil {
		return nil, errors.New("database and embedder are required")
	}
	if cfg.Splitter == nil {
		cfg.Splitter = NewSplitter(1000, 100)
	}

	idx := &Index{
		name:     cfg.Corpus,
		db:       cfg.DB.db,
		embedder: cfg.Embedder,
		splitter: cfg.Splitter,
		logger:   cfg.Logger.With().Str("component", "retrieval").Str("corpus", cfg.Corpus).Logger(),
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s_chunks (
			id INTEGER PRIMARY KEY,
			document_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL
		);
		CREATE VIRTUAL TABLE IF NOT EXISTS %[1]s_vec USING vec0(
			embedding float[%[2]d] distance_metric=cosine
		);`, idx.name, cfg.Embedder.Dimension())
	if _, err := idx.db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create index tables: %w", err)
	}
	return idx, nil
}

// Name returns the corpus name
func (i *Index) Name() string {
	return i.name
}

// Build replaces the index contents with the chunks of docs.
func (i *Index) Build(ctx context.Context, docs []Document) error {
	ctx, span := tracing.StartSpan(ctx, "retrieval.build", attribute.String("corpus", i.name))
	defer span.End()
	start := time.Now()

	chunks, err := i.splitter.Split(docs)
	if err != nil {
		return err
	}

	vectors, err := i.embedChunks(ctx, chunks)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s_vec", i.name)); err != nil {
		return fmt.Errorf("failed to clear vectors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s_chunks", i.name)); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	for n, c := range chunks {
		rowID := int64(n + 1)
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s_chunks (id, document_id, ordinal, content) VALUES (?, ?, ?, ?)", i.name),
			rowID, c.DocumentID, c.Ordinal, c.Text); err != nil {
			return fmt.Errorf("failed to store chunk: %w", err)
		}
		blob, err := sqlite_vec.SerializeFloat32(vectors[n])
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s_vec (rowid, embedding) VALUES (?, ?)", i.name),
			rowID, blob); err != nil {
			return fmt.Errorf("failed to store embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	i.mu.Lock()
	i.built = true
	i.chunks = len(chunks)
	i.mu.Unlock()

	i.logger.Info().
		Int("documents", len(docs)).
		Int("chunks", len(chunks)).
		Dur("duration", time.Since(start)).
		Msg("Index built")
	return nil
}

// embedChunks embeds chunk texts, reusing cached vectors by content hash.
func (i *Index) embedChunks(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	dim := i.embedder.Dimension()
	vectors := make([][]float32, len(chunks))
	var missing []int

	for n, c := range chunks {
		var blob []byte
		err := i.db.QueryRowContext(ctx,
			"SELECT embedding FROM embedding_cache WHERE content_hash = ? AND model_dim = ?",
			contentHash(c.Text), dim).Scan(&blob)
		if err == nil {
			if vec, derr := deserializeFloat32(blob); derr == nil && len(vec) == dim {
				vectors[n] = vec
				continue
			}
		}
		missing = append(missing, n)
	}

	if len(missing) == 0 {
		return vectors, nil
	}

	texts := make([]string, len(missing))
	for j, n := range missing {
		texts[j] = chunks[n].Text
	}
	embedded, err := i.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingUnavailable, len(texts), len(embedded))
	}

	for j, n := range missing {
		vec := embedded[j]
		if len(vec) != dim {
			return nil, fmt.Errorf("%w: embedding has %d dimensions, want %d", ErrEmbeddingUnavailable, len(vec), dim)
		}
		vectors[n] = vec
		blob, err := sqlite_vec.SerializeFloat32(vec)
		if err != nil {
			return nil, err
		}
		if _, err := i.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO embedding_cache (content_hash, model_dim, embedding, created_at) VALUES (?, ?, ?, ?)",
			contentHash(chunks[n].Text), dim, blob, time.Now().Unix()); err != nil {
			i.logger.Warn().Err(err).Msg("Failed to cache embedding")
		}
	}

	i.logger.Debug().Int("cached", len(chunks)-len(missing)).Int("embedded", len(missing)).Msg("Chunks embedded")
	return vectors, nil
}

// Search returns the k chunks nearest to query, best first.
func (i *Index) Search(ctx context.Context, query string, k int) ([]Passage, error) {
	i.mu.RLock()
	built := i.built
	i.mu.RUnlock()
	if !built {
		return nil, ErrNotBuilt
	}
	if k <= 0 {
		k = 4
	}

	ctx, span := tracing.StartSpan(ctx, "retrieval.search",
		attribute.String("corpus", i.name),
		attribute.Int("k", k),
	)
	defer span.End()
	start := time.Now()
	defer func() { observability.RecordRetrievalSearch(i.name, time.Since(start)) }()

	vecs, err := i.embedder.Embed(ctx, []string{query})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, ErrEmbeddingUnavailable) {
			err = fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
		}
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: no embedding returned", ErrEmbeddingUnavailable)
	}
	blob, err := sqlite_vec.SerializeFloat32(vecs[0])
	if err != nil {
		return nil, err
	}

	rows, err := i.db.QueryContext(ctx, fmt.Sprintf(`
		WITH knn AS (
			SELECT rowid, distance FROM %[1]s_vec
			WHERE embedding MATCH ? AND k = ?
		)
		SELECT c.document_id, c.content, knn.distance
		FROM knn
		JOIN %[1]s_chunks c ON c.id = knn.rowid
		ORDER BY knn.distance`, i.name), blob, k)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var out []Passage
	for rows.Next() {
		var p Passage
		var distance float64
		if err := rows.Scan(&p.DocumentID, &p.Text, &distance); err != nil {
			return nil, err
		}
		p.Score = 1 - distance
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logger := tracing.LoggerFromContext(ctx, i.logger)
	logger.Debug().
		Str("query", query).
		Int("results", len(out)).
		Msg("Search completed")
	return out, nil
}

// Size returns the number of indexed chunks.
func (i *Index) Size() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.chunks
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
