package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/llm"
	"github.com/ArchyTseng/tiic-law-chat/parser"
	"github.com/ArchyTseng/tiic-law-chat/store"
)

type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, nil
}

func (f fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func newTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestIngestFileParsesSegmentsEmbedsAndPersists(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(filepath.Join(t.TempDir(), "ingest.db"), 4)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	kb := store.KnowledgeBase{ID: ids.New(), Name: "default", EmbedProvider: "fake", EmbedModel: "fake", EmbedDim: 4}
	if err := s.InsertKB(ctx, kb); err != nil {
		t.Fatalf("InsertKB: %v", err)
	}

	registry := parser.NewRegistry()
	eng := New(s, registry, fakeEmbedder{dim: 4}, nil, Config{})

	path := newTestFile(t, "lease.txt", "Tenants must give thirty days notice before termination.")
	registry.Register("txt", textParserStub{})

	result, err := eng.IngestFile(ctx, kb.ID, path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if result.NodeCount == 0 {
		t.Fatal("expected at least one node to be ingested")
	}
	if result.Idempotent {
		t.Fatal("expected first ingest to not be idempotent")
	}

	count, err := s.NodeVectorCount(ctx, result.FileID)
	if err != nil {
		t.Fatalf("NodeVectorCount: %v", err)
	}
	if count != result.NodeCount {
		t.Errorf("expected every node to carry a vector, got %d vectors for %d nodes", count, result.NodeCount)
	}

	second, err := eng.IngestFile(ctx, kb.ID, path)
	if err != nil {
		t.Fatalf("second IngestFile: %v", err)
	}
	if !second.Idempotent {
		t.Error("expected re-ingesting the same file content to short-circuit as idempotent")
	}
	if second.FileID != result.FileID {
		t.Error("expected the idempotent re-ingest to return the original file ID")
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, nil
}

func (failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, context.DeadlineExceeded
}

func TestIngestFileEmbedFailureLeavesNoRows(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(filepath.Join(t.TempDir(), "rollback.db"), 4)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	kb := store.KnowledgeBase{ID: ids.New(), Name: "default", EmbedProvider: "fake", EmbedModel: "fake", EmbedDim: 4}
	if err := s.InsertKB(ctx, kb); err != nil {
		t.Fatalf("InsertKB: %v", err)
	}

	registry := parser.NewRegistry()
	registry.Register("txt", textParserStub{})
	eng := New(s, registry, failingEmbedder{}, nil, Config{})

	path := newTestFile(t, "lease.txt", "Tenants must give thirty days notice before termination.")

	result, err := eng.IngestFile(ctx, kb.ID, path)
	if err == nil {
		t.Fatal("expected an error when embedding fails")
	}

	// The file row records the failure, but no nodes may survive for
	// keyword or vector retrieval to find.
	file, ferr := s.GetFile(ctx, result.FileID)
	if ferr != nil {
		t.Fatalf("GetFile: %v", ferr)
	}
	if file.IngestStatus != "failed" {
		t.Errorf("ingest_status = %q, want failed", file.IngestStatus)
	}
	nodes, nerr := s.GetNodesByFile(ctx, result.FileID)
	if nerr != nil {
		t.Fatalf("GetNodesByFile: %v", nerr)
	}
	if len(nodes) != 0 {
		t.Fatalf("embed failure must persist no nodes, found %d", len(nodes))
	}
	hits, herr := s.SearchNodesByKeyword(ctx, kb.ID, "thirty days notice", 10)
	if herr != nil {
		t.Fatalf("SearchNodesByKeyword: %v", herr)
	}
	if len(hits) != 0 {
		t.Fatalf("a failed file's text must not be keyword-retrievable, got %d hits", len(hits))
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(filepath.Join(t.TempDir(), "dryrun.db"), 4)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	kb := store.KnowledgeBase{ID: ids.New(), Name: "default", EmbedProvider: "fake", EmbedModel: "fake", EmbedDim: 4}
	if err := s.InsertKB(ctx, kb); err != nil {
		t.Fatalf("InsertKB: %v", err)
	}

	registry := parser.NewRegistry()
	registry.Register("txt", textParserStub{})
	eng := New(s, registry, fakeEmbedder{dim: 4}, nil, Config{})

	path := newTestFile(t, "lease.txt", "Tenants must give thirty days notice before termination.")

	result, err := eng.DryRun(ctx, kb.ID, path)
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if result.NodeCount == 0 {
		t.Fatal("expected a dry run to report the nodes a real ingest would produce")
	}
	if !result.FileID.IsNil() {
		t.Errorf("dry run of a new file must not mint a file ID, got %s", result.FileID)
	}

	files, err := s.ListFiles(ctx, kb.ID)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("dry run must persist nothing, found %d files", len(files))
	}

	// After a real ingest, the dry run short-circuits to the existing file.
	real, err := eng.IngestFile(ctx, kb.ID, path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	again, err := eng.DryRun(ctx, kb.ID, path)
	if err != nil {
		t.Fatalf("second DryRun: %v", err)
	}
	if !again.Idempotent || again.FileID != real.FileID {
		t.Errorf("expected dry run of an ingested file to report it, got %+v", again)
	}
}

// textParserStub is a minimal Parser used only to exercise the ingest
// pipeline without depending on the real format parsers' I/O.
type textParserStub struct{}

func (textParserStub) Parse(ctx context.Context, path string) (*parser.ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &parser.ParseResult{
		Sections: []parser.Section{{Content: string(data), PageNumber: 1, Type: "paragraph"}},
		Method:   "native",
	}, nil
}

func (textParserStub) SupportedFormats() []string { return []string{"txt"} }
