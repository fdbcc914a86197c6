// Package store implements the persistence layer: a sqlite-backed
// wide-row schema with secondary indexes, idempotent writes, atomic
// multi-row transactions, and a read-through cache (spec §4.5).
package store

import (
	"time"

	"github.com/aristath/tradebot/internal/database"
	"github.com/rs/zerolog"
)

// Store is the single entry point repositories are built from; it owns
// the sqlite connection and the in-process read-through cache.
type Store struct {
	db    *database.DB
	cache *readCache
	log   zerolog.Logger

	Users       *UserRepository
	Trades      *TradeRepository
	Positions   *PositionRepository
	Alerts      *AlertRepository
	AlertEvents *AlertEventRepository
	Audit       *AuditRepository
}

// New builds a Store and its repositories over an already-migrated DB.
func New(db *database.DB, log zerolog.Logger) *Store {
	cache := newReadCache(5 * time.Minute)
	s := &Store{
		db:    db,
		cache: cache,
		log:   log.With().Str("component", "store").Logger(),
	}
	s.Users = &UserRepository{db: db, cache: cache}
	s.Trades = &TradeRepository{db: db}
	s.Positions = &PositionRepository{db: db, cache: cache}
	s.Alerts = &AlertRepository{db: db, cache: cache}
	s.AlertEvents = &AlertEventRepository{db: db}
	s.Audit = &AuditRepository{db: db}
	return s
}

// DB exposes the underlying connection; the package's tests use it to open
// transactions and to change rows directly. No other package should reach
// into it.
func (s *Store) DB() *database.DB { return s.db }
