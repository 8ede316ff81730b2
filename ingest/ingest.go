// Package ingest implements the Ingest Engine (C3): Parse -> Segment ->
// Embed -> Persist, the pipeline that turns a source file into a
// knowledge base's nodes and vectors. Every stage reports a Check so
// the whole run aggregates into one Gate report.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ArchyTseng/tiic-law-chat/chunker"
	"github.com/ArchyTseng/tiic-law-chat/gate"
	"github.com/ArchyTseng/tiic-law-chat/graph"
	"github.com/ArchyTseng/tiic-law-chat/ids"
	"github.com/ArchyTseng/tiic-law-chat/llm"
	"github.com/ArchyTseng/tiic-law-chat/parser"
	"github.com/ArchyTseng/tiic-law-chat/store"
)

// Config controls a single Engine's chunking and embedding behavior.
type Config struct {
	Chunker       chunker.Config
	EmbedBatch    int // nodes per Embed call, 0 = default of 32
	SkipGraph     bool
	CaptionImages bool // opt-in: caption extracted figures via the vision provider
}

// Engine runs the ingest pipeline for one knowledge base.
type Engine struct {
	store    *store.Store
	registry *parser.Registry
	chunker  *chunker.Chunker
	embedder llm.Provider
	vision   llm.VisionProvider
	graphB   *graph.Builder
	cfg      Config
}

// New creates an ingest engine. embedder is used to compute node
// vectors; passing nil skips the Embed stage (keyword-only ingest).
// graphB is used for the optional supplemental entity/relationship
// extraction; passing nil skips it regardless of cfg.SkipGraph.
func New(s *store.Store, registry *parser.Registry, embedder llm.Provider, graphB *graph.Builder, cfg Config) *Engine {
	if cfg.EmbedBatch == 0 {
		cfg.EmbedBatch = 32
	}
	return &Engine{
		store:    s,
		registry: registry,
		chunker:  chunker.New(cfg.Chunker),
		embedder: embedder,
		graphB:   graphB,
		cfg:      cfg,
	}
}

// WithVision attaches the optional vision provider used by the image
// captioning step; nil (the default) leaves figures as plain markers.
func (e *Engine) WithVision(v llm.VisionProvider) *Engine {
	e.vision = v
	return e
}

// Result summarizes one ingest run.
type Result struct {
	FileID     ids.ID
	DocumentID ids.ID
	NodeCount  int
	Idempotent bool // true if this returned a previously ingested file
	Report     gate.Report
}

// IngestFile parses, segments, embeds, and persists path into kbID.
// Re-ingesting the same (kbID, file content) pair short-circuits to the
// already-persisted file rather than reparsing, per the idempotency
// invariant.
func (e *Engine) IngestFile(ctx context.Context, kbID ids.ID, path string) (Result, error) {
	start := time.Now()
	timings := map[string]int64{}
	checks := []gate.Check{}

	data, err := os.ReadFile(path)
	if err != nil {
		checks = append(checks, gate.Check{Name: "read_file", Status: gate.Fail, Detail: err.Error()})
		return Result{Report: gate.Aggregate("ingest", checks)}, fmt.Errorf("read file: %w", err)
	}
	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])

	if existing, err := e.store.FindFileBySHA256(ctx, kbID, hexSum); err == nil {
		checks = append(checks, gate.Check{Name: "idempotent_lookup", Status: gate.Pass, Detail: "file already ingested"})
		doc, _ := e.store.GetNodesByFile(ctx, existing.ID)
		return Result{
			FileID:     existing.ID,
			NodeCount:  len(doc),
			Idempotent: true,
			Report:     gate.Aggregate("ingest", checks),
		}, nil
	}

	fileID := ids.New()
	file := store.KnowledgeFile{
		ID: fileID, KBID: kbID, FileName: filepath.Base(path), SHA256: hexSum, IngestStatus: "pending",
	}
	if err := e.store.InsertFile(ctx, file); err != nil {
		checks = append(checks, gate.Check{Name: "insert_file", Status: gate.Fail, Detail: err.Error()})
		return Result{Report: gate.Aggregate("ingest", checks)}, fmt.Errorf("insert file: %w", err)
	}

	// --- Parse ---
	parseStart := time.Now()
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	p, err := e.registry.Get(format)
	if err != nil {
		checks = append(checks, gate.Check{Name: "parse", Status: gate.Fail, Detail: err.Error()})
		e.failFile(ctx, fileID, timings)
		return Result{FileID: fileID, Report: gate.Aggregate("ingest", checks)}, fmt.Errorf("parse: %w", err)
	}
	parsed, err := p.Parse(ctx, path)
	timings["parse_ms"] = time.Since(parseStart).Milliseconds()
	if err != nil {
		checks = append(checks, gate.Check{Name: "parse", Status: gate.Fail, Detail: err.Error()})
		e.failFile(ctx, fileID, timings)
		return Result{FileID: fileID, Report: gate.Aggregate("ingest", checks)}, fmt.Errorf("parse: %w", err)
	}
	checks = append(checks, gate.Check{Name: "parse", Status: gate.Pass, Detail: fmt.Sprintf("method=%s sections=%d", parsed.Method, len(parsed.Sections))})
	parsed.Sections = CaptionImages(ctx, e.vision, e.cfg.CaptionImages, parsed.Sections, parsed.Images)

	pageCount := maxPage(parsed.Sections)
	documentID := ids.New()

	// --- Segment ---
	segmentStart := time.Now()
	nodes := e.chunker.ChunkToNodes(parsed.Sections, kbID, fileID, documentID)
	timings["segment_ms"] = time.Since(segmentStart).Milliseconds()
	if len(nodes) == 0 {
		checks = append(checks, gate.Check{Name: "segment", Status: gate.Fail, Detail: "no nodes produced from parsed content"})
		e.failFile(ctx, fileID, timings)
		return Result{FileID: fileID, Report: gate.Aggregate("ingest", checks)}, fmt.Errorf("segment: no nodes produced")
	}
	checks = append(checks, gate.Check{Name: "segment", Status: gate.Pass, Detail: fmt.Sprintf("%d nodes", len(nodes))})

	// --- Embed ---
	// Embedding happens before anything is written: an embed failure must
	// leave no node or vector rows behind, so the file can end "failed"
	// with nothing for retrieval to find.
	embedStart := time.Now()
	var vectors []store.NodeVector
	if e.embedder != nil {
		vectors, err = e.embedNodes(ctx, kbID, fileID, documentID, nodes)
		if err != nil {
			checks = append(checks, gate.Check{Name: "embed", Status: gate.Fail, Detail: err.Error()})
			timings["embed_ms"] = time.Since(embedStart).Milliseconds()
			e.failFile(ctx, fileID, timings)
			return Result{FileID: fileID, Report: gate.Aggregate("ingest", checks)}, fmt.Errorf("embed: %w", err)
		}
		checks = append(checks, gate.Check{Name: "embed", Status: gate.Pass})
	} else {
		checks = append(checks, gate.Check{Name: "embed", Status: gate.Skipped, Detail: "no embedder configured"})
	}
	timings["embed_ms"] = time.Since(embedStart).Milliseconds()

	// --- Persist ---
	// One transaction for document + nodes + vectors: either the whole
	// file lands, or none of it does.
	persistStart := time.Now()
	doc := store.Document{ID: documentID, FileID: fileID, KBID: kbID, PageCount: pageCount}
	if err := e.store.PersistIngest(ctx, doc, nodes, vectors); err != nil {
		checks = append(checks, gate.Check{Name: "persist", Status: gate.Fail, Detail: err.Error()})
		timings["db_ms"] = time.Since(persistStart).Milliseconds()
		e.failFile(ctx, fileID, timings)
		return Result{FileID: fileID, Report: gate.Aggregate("ingest", checks)}, fmt.Errorf("persist: %w", err)
	}
	checks = append(checks, gate.Check{Name: "persist", Status: gate.Pass})
	timings["db_ms"] = time.Since(persistStart).Milliseconds()

	// --- Graph (supplemental, never blocks ingest) ---
	graphStart := time.Now()
	if e.graphB != nil && !e.cfg.SkipGraph {
		if err := e.graphB.Build(ctx, fileID, nodes); err != nil {
			checks = append(checks, gate.Check{Name: "graph_extract", Status: gate.Warn, Detail: err.Error()})
		} else {
			checks = append(checks, gate.Check{Name: "graph_extract", Status: gate.Pass})
		}
	} else {
		checks = append(checks, gate.Check{Name: "graph_extract", Status: gate.Skipped, Detail: "graph extraction disabled"})
	}
	timings["graph_ms"] = time.Since(graphStart).Milliseconds()
	timings["total_ms"] = time.Since(start).Milliseconds()

	// The invariant |NodeVectorMap(file)| == |Node(file)| must hold for a
	// file to enter state success. The transactional persist guarantees
	// it by construction; this reads the committed rows back as an
	// independent post-condition rather than trusting the stages above.
	fileStatus := "success"
	if e.embedder != nil {
		vecCount, cerr := e.store.NodeVectorCount(ctx, fileID)
		if cerr != nil {
			checks = append(checks, gate.Check{Name: "vector_count", Status: gate.Fail, Detail: cerr.Error()})
			fileStatus = "failed"
		} else if vecCount != len(nodes) {
			checks = append(checks, gate.Check{
				Name: "vector_count", Status: gate.Fail,
				Detail: fmt.Sprintf("expected %d node vectors, found %d", len(nodes), vecCount),
			})
			fileStatus = "failed"
		}
	}
	report := gate.Aggregate("ingest", checks)
	if report.Status == gate.Fail {
		fileStatus = "failed"
	}

	if err := e.store.UpdateFileStatus(ctx, fileID, fileStatus, pageCount, len(nodes), timings); err != nil {
		slog.Warn("ingest: failed to record file status", "file_id", fileID, "error", err)
	}

	slog.Info("ingest: file complete", "file_id", fileID, "nodes", len(nodes), "status", report.Status, "file_status", fileStatus)

	return Result{FileID: fileID, DocumentID: documentID, NodeCount: len(nodes), Report: report}, nil
}

// DryRun parses and segments path without writing anything, so a caller
// can see what a real ingest would produce. The idempotency lookup still
// runs: a file already in the KB reports Idempotent=true with its real
// FileID instead of being reparsed.
func (e *Engine) DryRun(ctx context.Context, kbID ids.ID, path string) (Result, error) {
	checks := []gate.Check{}

	data, err := os.ReadFile(path)
	if err != nil {
		checks = append(checks, gate.Check{Name: "read_file", Status: gate.Fail, Detail: err.Error()})
		return Result{Report: gate.Aggregate("ingest", checks)}, fmt.Errorf("read file: %w", err)
	}
	sum := sha256.Sum256(data)

	if existing, err := e.store.FindFileBySHA256(ctx, kbID, hex.EncodeToString(sum[:])); err == nil {
		checks = append(checks, gate.Check{Name: "idempotent_lookup", Status: gate.Pass, Detail: "file already ingested"})
		return Result{FileID: existing.ID, NodeCount: existing.NodeCount, Idempotent: true, Report: gate.Aggregate("ingest", checks)}, nil
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	p, err := e.registry.Get(format)
	if err != nil {
		checks = append(checks, gate.Check{Name: "parse", Status: gate.Fail, Detail: err.Error()})
		return Result{Report: gate.Aggregate("ingest", checks)}, fmt.Errorf("parse: %w", err)
	}
	parsed, err := p.Parse(ctx, path)
	if err != nil {
		checks = append(checks, gate.Check{Name: "parse", Status: gate.Fail, Detail: err.Error()})
		return Result{Report: gate.Aggregate("ingest", checks)}, fmt.Errorf("parse: %w", err)
	}
	checks = append(checks, gate.Check{Name: "parse", Status: gate.Pass, Detail: fmt.Sprintf("method=%s sections=%d", parsed.Method, len(parsed.Sections))})

	nodes := e.chunker.ChunkToNodes(parsed.Sections, kbID, ids.Nil, ids.Nil)
	if len(nodes) == 0 {
		checks = append(checks, gate.Check{Name: "segment", Status: gate.Fail, Detail: "no nodes produced from parsed content"})
		return Result{Report: gate.Aggregate("ingest", checks)}, fmt.Errorf("segment: no nodes produced")
	}
	checks = append(checks, gate.Check{Name: "segment", Status: gate.Pass, Detail: fmt.Sprintf("%d nodes", len(nodes))})

	return Result{NodeCount: len(nodes), Report: gate.Aggregate("ingest", checks)}, nil
}

// embedNodes computes one vector per node in batches and returns them
// paired with their payloads, ready for PersistIngest. Nothing is
// written here; a partial batch failure aborts the whole stage.
func (e *Engine) embedNodes(ctx context.Context, kbID, fileID, documentID ids.ID, nodes []store.Node) ([]store.NodeVector, error) {
	vectors := make([]store.NodeVector, 0, len(nodes))
	batch := e.cfg.EmbedBatch
	for start := 0; start < len(nodes); start += batch {
		end := start + batch
		if end > len(nodes) {
			end = len(nodes)
		}
		slice := nodes[start:end]

		texts := make([]string, len(slice))
		for i, n := range slice {
			texts[i] = n.Text
		}
		embeddings, err := e.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		if len(embeddings) != len(slice) {
			return nil, fmt.Errorf("embed batch [%d:%d]: expected %d embeddings, got %d", start, end, len(slice), len(embeddings))
		}

		for i, n := range slice {
			vectors = append(vectors, store.NodeVector{
				Payload: store.VectorPayload{
					VectorID: ids.New(), NodeID: n.ID, KBID: kbID, FileID: fileID, DocumentID: documentID,
					Page: n.Page, ArticleID: n.ArticleID, SectionPath: n.SectionPath,
				},
				Embedding: embeddings[i],
			})
		}
	}
	return vectors, nil
}

func (e *Engine) failFile(ctx context.Context, fileID ids.ID, timings map[string]int64) {
	if err := e.store.UpdateFileStatus(ctx, fileID, "failed", 0, 0, timings); err != nil {
		slog.Warn("ingest: failed to record failed file status", "file_id", fileID, "error", err)
	}
}

func maxPage(sections []parser.Section) int {
	max := 0
	for _, s := range sections {
		if s.PageNumber > max {
			max = s.PageNumber
		}
		if c := maxPage(s.Children); c > max {
			max = c
		}
	}
	return max
}
