// Package dbsink implements the dbsink Action: appends every record it
// receives as a row in a local SQLite database, using the pure-Go
// modernc.org/sqlite driver so this one side effect never needs cgo.
package dbsink

import (
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/nugget/waymark/internal/actorkit"
	"github.com/nugget/waymark/internal/record"
	"github.com/nugget/waymark/internal/registry"
	"github.com/nugget/waymark/internal/runtime"
	"github.com/nugget/waymark/internal/store"
)

func init() {
	registry.Register(registry.Registration{
		Name:       "dbsink",
		ConfigType: reflect.TypeOf(Config{}),
		EntityType: reflect.TypeOf(Entity{}),
		Factory:    New,
	})
}

// Config is the dbsink actor's top-level settings: the database file every
// entity's table lives in.
type Config struct {
	Name string `yaml:"name" validate:"required"`
	Path string `yaml:"path" validate:"required"`
}

// Entity is one destination table.
type Entity struct {
	actorkit.EntityBase
	Name  string `yaml:"name" validate:"required"`
	Table string `yaml:"table"`
}

// Action appends every record it receives to a SQLite table.
type Action struct {
	*actorkit.Action
	db     *sql.DB
	tables map[string]string
	logger zerolog.Logger
}

func New(rt *actorkit.Runtime, controller *runtime.Controller, db *store.Store, rawConfig map[string]any, rawEntities []map[string]any) (registry.Actor, error) {
	cfgAny, err := registry.Decode(reflect.TypeOf(Config{}), rawConfig, "actors.dbsink.config")
	if err != nil {
		return nil, err
	}
	cfg := cfgAny.(*Config)

	sqldb, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("dbsink: open %s: %w", cfg.Path, err)
	}

	tables := make(map[string]string, len(rawEntities))
	entities := make(map[string]actorkit.EntityBase, len(rawEntities))
	for _, raw := range rawEntities {
		entAny, err := registry.Decode(reflect.TypeOf(Entity{}), raw, "actors.dbsink.entities")
		if err != nil {
			sqldb.Close()
			return nil, err
		}
		e := entAny.(*Entity)

		table := e.Table
		if table == "" {
			table = e.Name
		}
		if err := migrate(sqldb, table); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("dbsink: migrate %s: %w", table, err)
		}

		tables[e.Name] = table
		entities[e.Name] = e.EntityBase
	}

	a := &Action{
		db:     sqldb,
		tables: tables,
		logger: rt.Logger.With().Str("actor", cfg.Name).Logger(),
	}
	a.Action = actorkit.NewAction(rt, cfg.Name, entities, a.handle)
	return a, nil
}

// migrate creates table if it doesn't exist, keyed on the record's uid so
// re-delivery of the same record is a no-op rather than a duplicate row.
func migrate(db *sql.DB, table string) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			uid        TEXT PRIMARY KEY,
			received_at DATETIME NOT NULL,
			class_name TEXT NOT NULL,
			as_json    TEXT NOT NULL
		)
	`, table)
	_, err := db.Exec(stmt)
	return err
}

func (a *Action) handle(entity string, rec record.Record) {
	table, ok := a.tables[entity]
	if !ok {
		return
	}

	stmt := fmt.Sprintf(`INSERT OR IGNORE INTO %q (uid, received_at, class_name, as_json) VALUES (?, ?, ?, ?)`, table)
	_, err := a.db.Exec(stmt, rec.UID(), time.Now().UTC(), fmt.Sprintf("%T", rec), rec.AsJSON())
	if err != nil {
		a.logger.Warn().Str("entity", entity).Str("table", table).Err(err).Msg("dbsink: insert failed")
	}
}

// Close releases the underlying database connection.
func (a *Action) Close() error { return a.db.Close() }
