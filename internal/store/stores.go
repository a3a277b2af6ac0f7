package store

// Stores is the top-level container for all storage backends, constructed
// once at startup and passed explicitly (no package-level state).
type Stores struct {
	Orgs      OrgStore
	Nodes     NodeStore
	Tasks     TaskStore
	Responses ResponseStore
	HITL      HITLStore
	Events    EventStore
}

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	// PostgresDSN enables the Postgres backend (managed mode).
	PostgresDSN string
	// SQLitePath is the database file for the SQLite backend (standalone
	// mode, used when PostgresDSN is empty).
	SQLitePath string
}
