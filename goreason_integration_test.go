//go:build integration && cgo

package goreason

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ArchyTseng/tiic-law-chat/chat"
	"github.com/ArchyTseng/tiic-law-chat/ids"
)

const (
	ollamaURL   = "http://localhost:11434"
	chatModel   = "qwen3:8b"
	embedModel  = "qwen3-embedding"
	embedDim    = 4096
	testTimeout = 10 * time.Minute
)

// shared holds the engine and ingested document set up once for all tests.
var shared struct {
	once    sync.Once
	eng     *Engine
	doc     Document
	docPath string
	dbDir   string
	err     error
}

func ollamaAvailable() bool {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(ollamaURL + "/api/tags")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// warmModel sends a tiny request to force Ollama to load a model into memory.
func warmModel(model string) error {
	body := fmt.Sprintf(`{"model":%q,"messages":[{"role":"user","content":"hi"}],"stream":false,"options":{"num_predict":1}}`, model)
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(ollamaURL+"/api/chat", "application/json", strings.NewReader(body))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// warmEmbedModel sends a tiny embedding request.
func warmEmbedModel(model string) error {
	body := fmt.Sprintf(`{"model":%q,"input":["test"]}`, model)
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(ollamaURL+"/api/embed", "application/json", strings.NewReader(body))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func testConfig(dbPath string) Config {
	return Config{
		DBPath: dbPath,
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    chatModel,
			BaseURL:  ollamaURL,
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    embedModel,
			BaseURL:  ollamaURL,
		},
		WeightVector:   1.0,
		WeightFTS:      1.0,
		WeightGraph:    0.5,
		MaxChunkTokens: 512,
		ChunkOverlap:   64,
		EmbeddingDim:   embedDim,
		SkipGraph:      true, // graph extraction is slow and not under test here
	}
}

// setupShared creates the shared engine and ingests the test document once.
func setupShared(t *testing.T) {
	t.Helper()
	shared.once.Do(func() {
		if !ollamaAvailable() {
			shared.err = fmt.Errorf("ollama not available")
			return
		}

		// Warm up both models sequentially (avoid concurrent loading).
		t.Log("Warming up embedding model...")
		if err := warmEmbedModel(embedModel); err != nil {
			shared.err = fmt.Errorf("warming embed model: %w", err)
			return
		}
		t.Log("Warming up chat model...")
		if err := warmModel(chatModel); err != nil {
			shared.err = fmt.Errorf("warming chat model: %w", err)
			return
		}

		dir, err := os.MkdirTemp("", "goreason-integration-*")
		if err != nil {
			shared.err = err
			return
		}
		shared.dbDir = dir

		eng, err := New(testConfig(filepath.Join(dir, "integration_test.db")))
		if err != nil {
			shared.err = fmt.Errorf("creating engine: %w", err)
			return
		}
		shared.eng = eng

		docPath := createTestDOCX(dir)
		shared.docPath = docPath

		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		t.Log("Ingesting test document...")
		doc, err := eng.Ingest(ctx, docPath)
		if err != nil {
			shared.err = fmt.Errorf("ingesting document: %w", err)
			eng.Close()
			return
		}
		shared.doc = doc
		t.Logf("Document ingested: id=%s nodes=%d", doc.ID, doc.Nodes)
	})
}

func skipOrSetup(t *testing.T) {
	t.Helper()
	setupShared(t)
	if shared.err != nil {
		t.Skipf("shared setup failed: %v", shared.err)
	}
}

// createTestDOCX creates a minimal DOCX file with contract content.
func createTestDOCX(dir string) string {
	path := filepath.Join(dir, "spec-doc.docx")

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	ct, _ := w.Create("[Content_Types].xml")
	ct.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`))

	rels, _ := w.Create("_rels/.rels")
	rels.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`))

	doc, _ := w.Create("word/document.xml")
	doc.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p>
      <w:pPr><w:pStyle w:val="Heading1"/></w:pPr>
      <w:r><w:t>Material Specifications</w:t></w:r>
    </w:p>
    <w:p>
      <w:r><w:t>This document defines the material requirements for the structural components used in the bridge construction project. All materials shall comply with ISO 9001 quality management standards.</w:t></w:r>
    </w:p>
    <w:p>
      <w:pPr><w:pStyle w:val="Heading2"/></w:pPr>
      <w:r><w:t>Section 3.2 Tensile Strength Requirements</w:t></w:r>
    </w:p>
    <w:p>
      <w:r><w:t>The minimum tensile strength for Grade A structural steel shall be 500 MPa as measured according to ASTM D638 testing procedures. Each batch of material must be tested and certified before use on site. The contractor shall maintain records of all test results for a minimum period of 10 years.</w:t></w:r>
    </w:p>
    <w:p>
      <w:pPr><w:pStyle w:val="Heading2"/></w:pPr>
      <w:r><w:t>Section 4.1 Definitions</w:t></w:r>
    </w:p>
    <w:p>
      <w:r><w:t>"Force Majeure" means any event or circumstance beyond the reasonable control of a party, including but not limited to acts of God, war, terrorism, pandemic, earthquake, flood, or government action that prevents a party from performing its obligations under this contract.</w:t></w:r>
    </w:p>
    <w:p>
      <w:pPr><w:pStyle w:val="Heading2"/></w:pPr>
      <w:r><w:t>Section 6.0 Contract Terms</w:t></w:r>
    </w:p>
    <w:p>
      <w:r><w:t>This contract is effective from January 1, 2025 and shall remain in force for a period of 36 months unless terminated earlier in accordance with the provisions set forth herein. The total contract value is USD 2,500,000. Payment shall be made in monthly installments based on certified progress.</w:t></w:r>
    </w:p>
  </w:body>
</w:document>`))

	w.Close()
	os.WriteFile(path, buf.Bytes(), 0644)
	return path
}

// --- Engine creation ---

func TestIntegrationEngineNew(t *testing.T) {
	if !ollamaAvailable() {
		t.Skip("Ollama not reachable")
	}

	dir := t.TempDir()
	eng, err := New(testConfig(filepath.Join(dir, "test.db")))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer eng.Close()

	docs, err := eng.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected 0 documents in fresh DB, got %d", len(docs))
	}
}

// --- Ingest ---

func TestIntegrationIngestDOCX(t *testing.T) {
	skipOrSetup(t)

	if shared.doc.ID.IsNil() {
		t.Fatal("expected a non-nil ingested file ID")
	}
	if shared.doc.Status != "success" {
		t.Fatalf("ingest status: got %q, want success", shared.doc.Status)
	}
	if shared.doc.Nodes == 0 {
		t.Fatal("expected node_count > 0")
	}

	docs, err := shared.eng.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) < 1 {
		t.Fatalf("expected at least 1 document, got %d", len(docs))
	}
	if docs[0].FileName != "spec-doc.docx" {
		t.Errorf("file name: got %q, want spec-doc.docx", docs[0].FileName)
	}
}

func TestIntegrationIngestIdempotent(t *testing.T) {
	skipOrSetup(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	// Re-ingest same document; must return the same file ID, no new nodes.
	start := time.Now()
	doc2, err := shared.eng.Ingest(ctx, shared.docPath)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if shared.doc.ID != doc2.ID {
		t.Errorf("idempotent Ingest: got different IDs %s vs %s", shared.doc.ID, doc2.ID)
	}
	if doc2.Nodes != shared.doc.Nodes {
		t.Errorf("node count changed on re-ingest: %d vs %d", doc2.Nodes, shared.doc.Nodes)
	}
	// Short-circuit must skip parse+embed entirely.
	if elapsed := time.Since(start); elapsed > 30*time.Second {
		t.Errorf("re-ingest took %s; expected a short-circuit", elapsed)
	}
}

func TestIntegrationIngestDryRun(t *testing.T) {
	skipOrSetup(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	// The shared doc is already ingested, so a dry run reports it as-is.
	doc, err := shared.eng.IngestDryRun(ctx, shared.docPath)
	if err != nil {
		t.Fatalf("IngestDryRun: %v", err)
	}
	if doc.ID != shared.doc.ID {
		t.Errorf("dry run of an ingested file should report its existing ID, got %s", doc.ID)
	}
}

// --- Query ---

func TestIntegrationQueryTensileStrength(t *testing.T) {
	skipOrSetup(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	answer, err := shared.eng.Query(ctx, "What is the minimum tensile strength for Grade A structural steel?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if answer.Status != "success" {
		t.Fatalf("status %q (evaluator %q), want success", answer.Status, answer.EvaluatorStatus)
	}
	if !strings.Contains(answer.Text, "500") {
		t.Errorf("expected the answer to mention 500 MPa, got: %s", answer.Text)
	}
	if len(answer.Citations) == 0 {
		t.Error("expected at least one citation")
	}
	t.Logf("Answer: %s", answer.Text)
}

func TestIntegrationQueryForceMajeure(t *testing.T) {
	skipOrSetup(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	answer, err := shared.eng.Query(ctx, "What does Force Majeure mean in this contract?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if answer.Status != "success" {
		t.Fatalf("status %q, want success", answer.Status)
	}
	if len(answer.Citations) == 0 {
		t.Error("expected at least one citation")
	}
	t.Logf("Answer: %s", answer.Text)
}

func TestIntegrationQueryEmptyKB(t *testing.T) {
	if !ollamaAvailable() {
		t.Skip("Ollama not reachable")
	}

	dir := t.TempDir()
	eng, err := New(testConfig(filepath.Join(dir, "empty.db")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	answer, err := eng.Query(ctx, "What is the tensile strength?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if answer.Status != "blocked" {
		t.Fatalf("expected blocked on an empty knowledge base, got %q", answer.Status)
	}
	if len(answer.Citations) != 0 {
		t.Errorf("blocked answer must carry no citations, got %d", len(answer.Citations))
	}
	if answer.MessageID.IsNil() {
		t.Error("blocked answer must still reference its message record")
	}
}

// --- Answer structure ---

func TestIntegrationAnswerStructure(t *testing.T) {
	skipOrSetup(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	answer, err := shared.eng.Query(ctx, "What is the effective date of the contract?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if answer.Text == "" {
		t.Error("Text is empty")
	}
	if answer.EvaluatorStatus == "" {
		t.Error("EvaluatorStatus is empty")
	}
	if answer.MessageID.IsNil() {
		t.Error("MessageID is nil")
	}
	if len(answer.Hits) == 0 {
		t.Fatal("no hits returned")
	}

	hitSet := map[ids.ID]bool{}
	for _, h := range answer.Hits {
		if h.Node.Text == "" {
			t.Error("hit carries an empty node text")
		}
		hitSet[h.Node.ID] = true
	}
	// Invariant: every citation points into the hits of the same message.
	for i, c := range answer.Citations {
		if !hitSet[c.NodeID] {
			t.Errorf("citation[%d].NodeID %s not among hits", i, c.NodeID)
		}
	}

	t.Logf("Answer: %s", answer.Text)
	t.Logf("Evaluator: %s, Citations: %d, Hits: %d, Tokens: %d",
		answer.EvaluatorStatus, len(answer.Citations), len(answer.Hits), answer.TotalTokens)
}

// --- Chat with context ---

func TestIntegrationChatKeywordOnly(t *testing.T) {
	skipOrSetup(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	zero := 0
	result, err := shared.eng.Chat(ctx, ChatRequest{
		Query:   "What is the minimum tensile strength for Grade A structural steel?",
		Debug:   true,
		Context: &chat.Context{VectorTopK: &zero},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Debug == nil || result.Debug.RetrievalTrace == nil {
		t.Fatal("expected a debug retrieval trace")
	}
	if result.Debug.RetrievalTrace.VectorResults != 0 {
		t.Errorf("vector_top_k=0 must disable vector recall, saw %d vector results",
			result.Debug.RetrievalTrace.VectorResults)
	}
	if result.Status == "failed" {
		t.Fatalf("keyword-only chat failed: %+v", result)
	}
}

// --- Delete ---

func TestIntegrationDelete(t *testing.T) {
	if !ollamaAvailable() {
		t.Skip("Ollama not reachable")
	}
	warmEmbedModel(embedModel)

	dir := t.TempDir()
	eng, err := New(testConfig(filepath.Join(dir, "delete_test.db")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	docPath := createTestDOCX(dir)
	doc, err := eng.Ingest(ctx, docPath)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if err := eng.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	docs, err := eng.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected 0 documents after delete, got %d", len(docs))
	}
}
