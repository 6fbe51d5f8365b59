package addrstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/compose-network/bridge-deployer/x/resource"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - resources table
const currentSchemaVersion = 1

// SQLiteStore keeps records in a SQLite database. Inserts use
// ON CONFLICT DO NOTHING so concurrent writers of one key cannot overwrite
// each other.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string, log zerolog.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("addrstore: create %s: %w", filepath.Dir(path), err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("addrstore: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("addrstore: connect to database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:  db,
		log: log.With().Str("component", "addrstore-sqlite").Str("path", path).Logger(),
	}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("addrstore: execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("addrstore: execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("addrstore: get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("addrstore: set user_version: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key resource.Key) (resource.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, created_at, imported FROM resources
		WHERE network = ? AND token = ? AND role = ? AND sibling = ? AND variant = ?`,
		string(key.Network), string(key.Token), string(key.Role), string(key.Sibling), string(key.Variant))

	var (
		addr     string
		created  int64
		imported bool
	)
	if err := row.Scan(&addr, &created, &imported); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return resource.Record{}, false, nil
		}
		return resource.Record{}, false, fmt.Errorf("addrstore: get %s: %w", key, err)
	}
	return resource.Record{
		Key:       key,
		Address:   common.HexToAddress(addr),
		CreatedAt: time.Unix(0, created).UTC(),
		Imported:  imported,
	}, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec resource.Record) error {
	if err := validateRecord(&rec); err != nil {
		return err
	}
	k := rec.Key
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (network, token, role, sibling, variant, address, created_at, imported)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (network, token, role, sibling, variant) DO NOTHING`,
		string(k.Network), string(k.Token), string(k.Role), string(k.Sibling), string(k.Variant),
		rec.Address.Hex(), rec.CreatedAt.UnixNano(), rec.Imported)
	if err != nil {
		return fmt.Errorf("addrstore: insert %s: %w", k, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("addrstore: insert %s: %w", k, err)
	}
	if n == 1 {
		s.log.Debug().Str("key", k.String()).Str("address", rec.Address.Hex()).Msg("Address recorded")
		return nil
	}

	existing, found, err := s.Get(ctx, k)
	if err != nil {
		return err
	}
	_, err = admit(existing, found, rec)
	return err
}

func (s *SQLiteStore) Records(ctx context.Context) ([]resource.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT network, token, role, sibling, variant, address, created_at, imported FROM resources`)
	if err != nil {
		return nil, fmt.Errorf("addrstore: list records: %w", err)
	}
	defer rows.Close()

	var out []resource.Record
	for rows.Next() {
		var (
			network, token, role, sibling, variant, addr string
			created                                      int64
			imported                                     bool
		)
		if err := rows.Scan(&network, &token, &role, &sibling, &variant, &addr, &created, &imported); err != nil {
			return nil, fmt.Errorf("addrstore: scan record: %w", err)
		}
		out = append(out, resource.Record{
			Key: resource.Key{
				Network: resource.NetworkID(network),
				Token:   resource.TokenID(token),
				Role:    resource.Role(role),
				Sibling: resource.NetworkID(sibling),
				Variant: resource.Variant(variant),
			},
			Address:   common.HexToAddress(addr),
			CreatedAt: time.Unix(0, created).UTC(),
			Imported:  imported,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("addrstore: list records: %w", err)
	}
	sortRecords(out)
	return out, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
