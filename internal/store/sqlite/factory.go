package sqlite

import (
	"fmt"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

// NewSQLiteStores creates all stores backed by SQLite (standalone mode).
func NewSQLiteStores(cfg store.StoreConfig) (*store.Stores, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "aiorg.db"
	}
	db, err := OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	return &store.Stores{
		Orgs:      NewSQLiteOrgStore(db),
		Nodes:     NewSQLiteNodeStore(db),
		Tasks:     NewSQLiteTaskStore(db),
		Responses: NewSQLiteResponseStore(db),
		HITL:      NewSQLiteHITLStore(db),
		Events:    NewSQLiteEventStore(db),
	}, nil
}
