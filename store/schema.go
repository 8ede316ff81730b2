package store

import "fmt"

// schemaSQL returns the DDL for every table. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Knowledge bases: one embedding configuration and chunking profile each.
CREATE TABLE IF NOT EXISTS kb (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    embed_provider TEXT NOT NULL,
    embed_model TEXT NOT NULL,
    embed_dim INTEGER NOT NULL,
    chunking_config JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Ingested files, keyed by content hash within a KB for idempotent re-ingest.
CREATE TABLE IF NOT EXISTS knowledge_file (
    id TEXT PRIMARY KEY,
    kb_id TEXT NOT NULL REFERENCES kb(id) ON DELETE CASCADE,
    file_name TEXT NOT NULL,
    sha256 TEXT NOT NULL,
    ingest_status TEXT NOT NULL DEFAULT 'pending',
    pages INTEGER DEFAULT 0,
    node_count INTEGER DEFAULT 0,
    timings JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(kb_id, sha256)
);

-- Logical document derived from a file (one file normally yields one document).
CREATE TABLE IF NOT EXISTS document (
    id TEXT PRIMARY KEY,
    file_id TEXT NOT NULL REFERENCES knowledge_file(id) ON DELETE CASCADE,
    kb_id TEXT NOT NULL REFERENCES kb(id) ON DELETE CASCADE,
    page_count INTEGER DEFAULT 0,
    parser_metadata JSON
);

-- Nodes: the smallest addressable evidence unit, ordered per file.
CREATE TABLE IF NOT EXISTS node (
    id TEXT PRIMARY KEY,
    kb_id TEXT NOT NULL REFERENCES kb(id) ON DELETE CASCADE,
    file_id TEXT NOT NULL REFERENCES knowledge_file(id) ON DELETE CASCADE,
    document_id TEXT NOT NULL REFERENCES document(id) ON DELETE CASCADE,
    node_index INTEGER NOT NULL,
    text TEXT NOT NULL,
    page INTEGER,
    article_id TEXT,
    section_path TEXT,
    start_offset INTEGER,
    end_offset INTEGER,
    meta_data JSON
);

CREATE INDEX IF NOT EXISTS idx_node_file_index ON node(file_id, node_index);
CREATE INDEX IF NOT EXISTS idx_node_kb ON node(kb_id);

-- Full-text index over node.text. content_rowid ties back to node's hidden
-- rowid (node.id is the opaque external key; rowid is the internal FTS join key).
CREATE VIRTUAL TABLE IF NOT EXISTS node_fts USING fts5(
    text,
    content='node',
    content_rowid='rowid',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS node_ai AFTER INSERT ON node BEGIN
    INSERT INTO node_fts(rowid, text) VALUES (new.rowid, new.text);
END;
CREATE TRIGGER IF NOT EXISTS node_ad AFTER DELETE ON node BEGIN
    INSERT INTO node_fts(node_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
END;
CREATE TRIGGER IF NOT EXISTS node_au AFTER UPDATE ON node BEGIN
    INSERT INTO node_fts(node_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
    INSERT INTO node_fts(rowid, text) VALUES (new.rowid, new.text);
END;

-- Vector index (C2). The vec0 table is keyed by its own integer rowid;
-- vector_payload carries the opaque, externally-meaningful vector_id plus
-- the scoping columns filtered search needs.
CREATE VIRTUAL TABLE IF NOT EXISTS vec_node USING vec0(
    embedding float[%d] distance_metric=cosine
);

CREATE TABLE IF NOT EXISTS vector_payload (
    vector_id TEXT PRIMARY KEY,
    vec_rowid INTEGER NOT NULL,
    node_id TEXT NOT NULL REFERENCES node(id) ON DELETE CASCADE,
    kb_id TEXT NOT NULL,
    file_id TEXT NOT NULL,
    document_id TEXT NOT NULL,
    page INTEGER,
    article_id TEXT,
    section_path TEXT
);

CREATE INDEX IF NOT EXISTS idx_vector_payload_node ON vector_payload(node_id);
CREATE INDEX IF NOT EXISTS idx_vector_payload_kb ON vector_payload(kb_id);

-- Exactly one live vector per node per embedding configuration.
CREATE TABLE IF NOT EXISTS node_vector_map (
    node_id TEXT PRIMARY KEY REFERENCES node(id) ON DELETE CASCADE,
    vector_id TEXT NOT NULL REFERENCES vector_payload(vector_id) ON DELETE CASCADE,
    kb_id TEXT NOT NULL
);

-- Conversations and messages: Message.status is the single observable
-- truth of a query's outcome.
CREATE TABLE IF NOT EXISTS conversation (
    id TEXT PRIMARY KEY,
    kb_id TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS message (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversation(id) ON DELETE CASCADE,
    kb_id TEXT NOT NULL,
    query_text TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS retrieval_record (
    id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL UNIQUE REFERENCES message(id) ON DELETE CASCADE,
    kb_id TEXT NOT NULL,
    query_text TEXT NOT NULL,
    keyword_top_k INTEGER,
    vector_top_k INTEGER,
    fusion_top_k INTEGER,
    rerank_top_k INTEGER,
    fusion_strategy TEXT,
    rerank_strategy TEXT,
    provider_snapshot JSON,
    timing_ms JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS retrieval_hit (
    id INTEGER PRIMARY KEY,
    retrieval_record_id TEXT NOT NULL REFERENCES retrieval_record(id) ON DELETE CASCADE,
    node_id TEXT NOT NULL,
    source TEXT NOT NULL,
    rank INTEGER NOT NULL,
    score REAL NOT NULL,
    score_details JSON,
    excerpt TEXT,
    page INTEGER,
    start_offset INTEGER,
    end_offset INTEGER,
    UNIQUE(retrieval_record_id, node_id, source)
);

CREATE INDEX IF NOT EXISTS idx_retrieval_hit_record ON retrieval_hit(retrieval_record_id);

CREATE TABLE IF NOT EXISTS generation_record (
    id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL UNIQUE REFERENCES message(id) ON DELETE CASCADE,
    retrieval_record_id TEXT NOT NULL REFERENCES retrieval_record(id),
    prompt_name TEXT,
    prompt_version TEXT,
    model_provider TEXT,
    model_name TEXT,
    messages_snapshot JSON,
    output_raw TEXT,
    output_structured JSON,
    citations JSON,
    status TEXT NOT NULL,
    error_message TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS evaluation_record (
    id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL REFERENCES message(id) ON DELETE CASCADE,
    retrieval_record_id TEXT NOT NULL,
    generation_record_id TEXT NOT NULL,
    status TEXT NOT NULL,
    rule_version TEXT NOT NULL,
    config JSON,
    checks JSON,
    scores JSON,
    meta JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Optional knowledge-graph recall (supplemental, not required by any gate).
CREATE TABLE IF NOT EXISTS entity (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    name_en TEXT,
    entity_type TEXT NOT NULL,
    description TEXT,
    metadata JSON,
    UNIQUE(name, entity_type)
);

CREATE TABLE IF NOT EXISTS relationship (
    id INTEGER PRIMARY KEY,
    source_entity_id INTEGER NOT NULL REFERENCES entity(id) ON DELETE CASCADE,
    target_entity_id INTEGER NOT NULL REFERENCES entity(id) ON DELETE CASCADE,
    relation_type TEXT NOT NULL,
    weight REAL DEFAULT 1.0,
    description TEXT,
    source_node_id TEXT REFERENCES node(id),
    metadata JSON
);

CREATE TABLE IF NOT EXISTS entity_node (
    entity_id INTEGER NOT NULL REFERENCES entity(id) ON DELETE CASCADE,
    node_id TEXT NOT NULL REFERENCES node(id) ON DELETE CASCADE,
    PRIMARY KEY (entity_id, node_id)
);

CREATE TABLE IF NOT EXISTS community (
    id INTEGER PRIMARY KEY,
    level INTEGER NOT NULL,
    summary TEXT,
    entity_ids JSON NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entity_type ON entity(entity_type);
CREATE INDEX IF NOT EXISTS idx_relationship_source ON relationship(source_entity_id);
CREATE INDEX IF NOT EXISTS idx_relationship_target ON relationship(target_entity_id);
CREATE INDEX IF NOT EXISTS idx_entity_node_node ON entity_node(node_id);
`, embeddingDim)
}
