package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIndex(t *testing.T, db *DB, corpus string, emb EmbeddingProvider) *Index {
	t.Helper()
	idx, err := NewIndex(IndexConfig{
		Corpus:   corpus,
		DB:       db,
		Embedder: emb,
		Splitter: NewSplitter(1000, 100),
		Logger:   zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)
	return idx
}

func openDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDefaultCorpora(t *testing.T) {
	corpora := DefaultCorpora()

	faq, ok := Find(corpora, CorpusProductFAQ)
	require.True(t, ok)
	assert.Len(t, faq.Documents, 4)
	assert.Contains(t, faq.Documents[0].Text, "14 days")

	conv, ok := Find(corpora, CorpusConversations)
	require.True(t, ok)
	assert.Len(t, conv.Documents, 4)
}

func TestLoadCorpora(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
corpora:
  - name: product_faq
    documents:
      - id: shipping
        text: Shipping is free for orders above 10 million.
  - name: supplier_notes
    documents:
      - text: Supplier restocks arrive every Monday.
`), 0644))

	corpora, err := LoadCorpora([]string{path})
	require.NoError(t, err)
	require.Len(t, corpora, 3)

	faq, _ := Find(corpora, CorpusProductFAQ)
	require.Len(t, faq.Documents, 1)
	assert.Equal(t, "shipping", faq.Documents[0].ID)

	_, ok := Find(corpora, "supplier_notes")
	assert.True(t, ok)

	t.Run("should reject bad names", func(t *testing.T) {
		_, err := ParseCorpora([]byte("corpora:\n  - name: Bad-Name\n    documents:\n      - text: x\n"))
		assert.Error(t, err)
	})
}

func TestSplitter(t *testing.T) {
	long := strings.Repeat("Laptop stock changes daily. ", 100)
	chunks, err := NewSplitter(200, 20).Split([]Document{{ID: "a", Text: long}, {Text: "short"}})
	require.NoError(t, err)

	require.Greater(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 200)
	}
	last := chunks[len(chunks)-1]
	assert.Equal(t, "doc-1", last.DocumentID)
	assert.Equal(t, "short", last.Text)
}

func TestIndexSearch(t *testing.T) {
	db := openDB(t)
	emb := &hashEmbedder{dim: 64}
	faq, _ := Find(DefaultCorpora(), CorpusProductFAQ)
	idx := setupIndex(t, db, CorpusProductFAQ, emb)

	_, err := idx.Search(context.Background(), "anything", 4)
	assert.ErrorIs(t, err, ErrNotBuilt)

	require.NoError(t, idx.Build(context.Background(), faq.Documents))
	assert.Equal(t, 4, idx.Size())

	t.Run("should rank the matching policy first", func(t *testing.T) {
		passages, err := idx.Search(context.Background(), "What is the return policy? Can customers return products?", 4)
		require.NoError(t, err)
		require.NotEmpty(t, passages)

		assert.Equal(t, "return-policy", passages[0].DocumentID)
		assert.Contains(t, passages[0].Text, "14 days")
		for i := 1; i < len(passages); i++ {
			assert.GreaterOrEqual(t, passages[i-1].Score, passages[i].Score)
		}
	})

	t.Run("should respect k", func(t *testing.T) {
		passages, err := idx.Search(context.Background(), "warranty", 2)
		require.NoError(t, err)
		assert.Len(t, passages, 2)
	})

	t.Run("should surface embedding failures as unavailable", func(t *testing.T) {
		emb.fail = errOffline
		defer func() { emb.fail = nil }()

		_, err := idx.Search(context.Background(), "warranty", 2)
		assert.True(t, errors.Is(err, ErrEmbeddingUnavailable))
	})

	t.Run("should serve concurrent searches", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := idx.Search(context.Background(), "payment methods credit card", 1)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	})
}

func TestIndexEmbeddingCache(t *testing.T) {
	db := openDB(t)
	emb := &hashEmbedder{dim: 32}
	conv, _ := Find(DefaultCorpora(), CorpusConversations)

	first := setupIndex(t, db, CorpusConversations, emb)
	require.NoError(t, first.Build(context.Background(), conv.Documents))
	embedded := emb.texts.Load()
	assert.Equal(t, int32(4), embedded)

	second := setupIndex(t, db, CorpusConversations, emb)
	require.NoError(t, second.Build(context.Background(), conv.Documents))
	assert.Equal(t, embedded, emb.texts.Load())
}

func TestIndexSeparatesCorpora(t *testing.T) {
	db := openDB(t)
	emb := &hashEmbedder{dim: 64}
	corpora := DefaultCorpora()

	faq := setupIndex(t, db, CorpusProductFAQ, emb)
	conv := setupIndex(t, db, CorpusConversations, emb)
	faqDocs, _ := Find(corpora, CorpusProductFAQ)
	convDocs, _ := Find(corpora, CorpusConversations)
	require.NoError(t, faq.Build(context.Background(), faqDocs.Documents))
	require.NoError(t, conv.Build(context.Background(), convDocs.Documents))

	passages, err := conv.Search(context.Background(), "warranty", 4)
	require.NoError(t, err)
	for _, p := range passages {
		assert.True(t, strings.HasPrefix(p.DocumentID, "chat-"))
	}
}

func TestNewIndexValidation(t *testing.T) {
	db := openDB(t)
	_, err := NewIndex(IndexConfig{Corpus: "drop table;", DB: db, Embedder: &hashEmbedder{dim: 8}})
	assert.Error(t, err)

	_, err = NewIndex(IndexConfig{Corpus: "ok"})
	assert.Error(t, err)
}
