package semantic

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbindex/internal/embedding"
	"github.com/hyperjump/kbindex/internal/snapshot"
	"github.com/hyperjump/kbindex/internal/storage"
)

var corpusTopics = []struct{ title, content string }{
	{"Python Guide", "Python is a high-level programming language used for web development and data science."},
	{"Kubernetes Docs", "Kubernetes is an open-source container orchestration platform that automates deployment and scaling."},
	{"React Tutorial", "React is a JavaScript library; hooks and components enable building user interfaces."},
	{"Go Language", "Go is a statically typed language whose concurrency is achieved with goroutines and channels."},
	{"PostgreSQL Manual", "PostgreSQL is an advanced relational database that supports JSON and full-text search."},
	{"Docker Handbook", "Docker container images are portable across environments."},
	{"Machine Learning", "Machine learning algorithms learn patterns from data."},
	{"REST API Design", "REST API endpoints use HTTP methods and status codes."},
	{"Redis Cache", "Redis is an in-memory data store used for sessions and caching."},
	{"Terraform IaC", "Terraform infrastructure as code is declarative and manages cloud infrastructure."},
	{"gRPC Overview", "gRPC remote procedure calls use HTTP/2 and protobuf."},
	{"Git Workflow", "Git is a distributed version control system that tracks changes in source code."},
	{"Kafka Streams", "Apache Kafka is a distributed event stream platform that handles high throughput."},
	{"Vector Database", "Vector databases store embeddings and compare them by distance."},
	{"Chunking Strategy", "Chunking splits long documents; overlap preserves context between chunks."},
	{"Rate Limiting", "Rate limiting protects APIs and can be per-user or global."},
	{"Backup Strategy", "Backups protect against data loss; a recovery plan includes RTO and RPO."},
	{"Password Hashing", "Passwords must be hashed; bcrypt is resistant to rainbow tables."},
	{"Feature Flags", "Feature flags toggle functionality and allow gradual rollout."},
	{"Distributed Tracing", "Tracing follows requests across services; spans show the latency breakdown."},
}

type corpusBackend struct {
	name string
	open func(t *testing.T, dir string) storage.Store
}

var corpusBackends = []corpusBackend{
	{"local", func(t *testing.T, dir string) storage.Store {
		s, err := storage.NewLocalStore(dir)
		require.NoError(t, err)
		return s
	}},
	{"sqlite", func(t *testing.T, dir string) storage.Store {
		s, err := storage.NewSQLiteStore(filepath.Join(dir, "kb.db"))
		require.NoError(t, err)
		return s
	}},
	{"badger", func(t *testing.T, dir string) storage.Store {
		s, err := storage.NewBadgerStore(dir, nil)
		require.NoError(t, err)
		return s
	}},
}

// TestCorpus_exactQueriesAcrossBackends adds a small corpus, reopens it from
// each backend and checks that querying a document's own text finds it first.
func TestCorpus_exactQueriesAcrossBackends(t *testing.T) {
	texts := make([]string, len(corpusTopics))
	metas := make([]map[string]any, len(corpusTopics))
	for i, c := range corpusTopics {
		texts[i] = c.content
		metas[i] = map[string]any{"title": c.title, "rank": i}
	}

	for _, b := range corpusBackends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			embedder := embedding.NewMockEmbedder(128)

			store := b.open(t, dir)
			idx, err := Open(ctx, embedder, snapshot.NewManager(store, snapshot.WithPrefix("kb")))
			require.NoError(t, err)
			n, err := idx.AddTexts(ctx, texts[:10], metas[:10])
			require.NoError(t, err)
			require.Equal(t, 10, n)
			n, err = idx.AddTexts(ctx, texts[10:], metas[10:])
			require.NoError(t, err)
			require.Equal(t, len(texts)-10, n)
			require.NoError(t, idx.Close(ctx))
			require.NoError(t, store.Close())

			store = b.open(t, dir)
			defer store.Close()
			idx, err = Open(ctx, embedder, snapshot.NewManager(store, snapshot.WithPrefix("kb")))
			require.NoError(t, err)
			require.Equal(t, len(texts), idx.Len())

			for i, text := range texts {
				res, err := idx.Search(ctx, text, 3, 4)
				require.NoError(t, err, "query %d", i)
				require.NotEmpty(t, res, "query %d", i)
				assert.Equal(t, i, res[0].Ordinal, fmt.Sprintf("query %q", corpusTopics[i].title))
				assert.InDelta(t, 0, res[0].Distance, 1e-9)
				assert.EqualValues(t, i, res[0].Metadata["rank"])
				assert.Equal(t, corpusTopics[i].title, res[0].Metadata["title"])
			}
		})
	}
}
