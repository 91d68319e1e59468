package store

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id           TEXT PRIMARY KEY,
    ts_detected  INTEGER NOT NULL,
    ts_published INTEGER NOT NULL DEFAULT 0,
    headline     TEXT NOT NULL,
    source       TEXT NOT NULL,
    link         TEXT NOT NULL DEFAULT '',
    market       TEXT NOT NULL DEFAULT '',
    symbols      TEXT NOT NULL DEFAULT '',
    categories   TEXT NOT NULL DEFAULT '',
    tags         TEXT NOT NULL DEFAULT '',
    score        REAL NOT NULL DEFAULT 0,
    pushed       BOOLEAN NOT NULL DEFAULT 0,
    expires_at   INTEGER NOT NULL DEFAULT 0,
    thread_key   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_events_detected ON events(ts_detected DESC);
CREATE INDEX IF NOT EXISTS idx_events_thread ON events(thread_key, ts_detected);
CREATE INDEX IF NOT EXISTS idx_events_score ON events(score DESC);
CREATE INDEX IF NOT EXISTS idx_events_expires ON events(expires_at);
`
