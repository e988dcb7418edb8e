package cache

// Schema contains SQL schema definitions for the offline database
const Schema = `
-- Query results keyed by canonical cache key
CREATE TABLE IF NOT EXISTS entries (
    key TEXT PRIMARY KEY,
    operation TEXT NOT NULL,
    payload TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Mail item records
CREATE TABLE IF NOT EXISTS items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    folder_id TEXT,
    flags TEXT,
    date TEXT NOT NULL,
    subject TEXT,
    sender_name TEXT,
    sender_email TEXT,
    recipients TEXT,
    excerpt TEXT,
    body_text TEXT,
    body_html TEXT,
    payload TEXT NOT NULL,
    cached_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Folder tree, stored as a single document
CREATE TABLE IF NOT EXISTS folders (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    payload TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Contacts
CREATE TABLE IF NOT EXISTS contacts (
    id TEXT PRIMARY KEY,
    folder_id TEXT,
    email TEXT,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_folder_id ON items(folder_id);
CREATE INDEX IF NOT EXISTS idx_items_date ON items(date);
CREATE INDEX IF NOT EXISTS idx_items_sender_email ON items(sender_email);
CREATE INDEX IF NOT EXISTS idx_contacts_folder_id ON contacts(folder_id);

-- Full-text search index
CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(
    subject,
    sender_email,
    sender_name,
    body_text,
    content='items',
    content_rowid='id'
);

-- Triggers for FTS
CREATE TRIGGER IF NOT EXISTS items_fts_insert AFTER INSERT ON items BEGIN
    INSERT INTO items_fts(rowid, subject, sender_email, sender_name, body_text)
    VALUES (new.id, new.subject, new.sender_email, new.sender_name, new.body_text);
END;

CREATE TRIGGER IF NOT EXISTS items_fts_update AFTER UPDATE ON items BEGIN
    INSERT INTO items_fts(items_fts, rowid, subject, sender_email, sender_name, body_text)
    VALUES ('delete', old.id, old.subject, old.sender_email, old.sender_name, old.body_text);
    INSERT INTO items_fts(rowid, subject, sender_email, sender_name, body_text)
    VALUES (new.id, new.subject, new.sender_email, new.sender_name, new.body_text);
END;

CREATE TRIGGER IF NOT EXISTS items_fts_delete AFTER DELETE ON items BEGIN
    INSERT INTO items_fts(items_fts, rowid, subject, sender_email, sender_name, body_text)
    VALUES ('delete', old.id, old.subject, old.sender_email, old.sender_name, old.body_text);
END;
`
