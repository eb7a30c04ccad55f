package database

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id TEXT NOT NULL UNIQUE,
    thread_id TEXT,
    sender_name TEXT,
    sender_email TEXT NOT NULL,
    recipient_name TEXT,
    recipient_email TEXT,
    received_at DATETIME NOT NULL,
    is_outbound BOOLEAN DEFAULT false,
    subject TEXT,
    body_html TEXT,
    body_cleaned TEXT,
    labels TEXT,
    attachments TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS classifications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id INTEGER NOT NULL UNIQUE REFERENCES messages(id) ON DELETE CASCADE,
    category TEXT NOT NULL,
    sub_category TEXT,
    priority TEXT NOT NULL DEFAULT 'Medium',
    confidence REAL DEFAULT 0,
    summary TEXT,
    extracted_info TEXT,
    tags TEXT,
    contact_name TEXT,
    contact_phone TEXT,
    contact_email TEXT,
    property_address TEXT,
    is_read BOOLEAN DEFAULT false,
    is_archived BOOLEAN DEFAULT false,
    is_important BOOLEAN DEFAULT false,
    requires_action BOOLEAN DEFAULT false,
    action_due_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS categories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    description TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ingestion_runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    status TEXT NOT NULL DEFAULT 'running',
    messages_seen INTEGER DEFAULT 0,
    messages_new INTEGER DEFAULT 0,
    errors TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS urgent_counts (
    count_type TEXT PRIMARY KEY,
    current_count INTEGER NOT NULL DEFAULT 0,
    last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages(message_id);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_email);
CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);
CREATE INDEX IF NOT EXISTS idx_messages_outbound ON messages(is_outbound);
CREATE INDEX IF NOT EXISTS idx_classifications_category ON classifications(category);
CREATE INDEX IF NOT EXISTS idx_classifications_priority ON classifications(priority);
CREATE INDEX IF NOT EXISTS idx_classifications_read ON classifications(is_read);
CREATE INDEX IF NOT EXISTS idx_classifications_archived ON classifications(is_archived);
CREATE INDEX IF NOT EXISTS idx_classifications_action ON classifications(requires_action);
CREATE INDEX IF NOT EXISTS idx_runs_started ON ingestion_runs(started_at);
`
