package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scenes (
		id            TEXT PRIMARY KEY,
		collection    TEXT NOT NULL,
		path          TEXT NOT NULL,
		acquired_ms   BIGINT NOT NULL,
		polarisations TEXT NOT NULL,
		orbit_pass    TEXT NOT NULL,
		platform      TEXT NOT NULL,
		crs           TEXT NOT NULL,
		min_x         DOUBLE PRECISION NOT NULL,
		min_y         DOUBLE PRECISION NOT NULL,
		max_x         DOUBLE PRECISION NOT NULL,
		max_y         DOUBLE PRECISION NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS scenes_collection_acquired ON scenes (collection, acquired_ms)`,
}

// Store is a scene index kept in postgres ("postgres" driver) or sqlite
// ("sqlite" driver).
type Store struct {
	DB     *sql.DB
	Driver string
	Log    *zap.SugaredLogger
}

// Open connects to the catalogue database and creates the schema if needed.
func Open(ctx context.Context, driver, dsn string, log *zap.SugaredLogger) (*Store, error) {
	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported catalogue driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s catalogue: %v", driver, err)
	}
	if driver == "sqlite" {
		// in-memory databases are per connection
		db.SetMaxOpenConns(1)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &Store{DB: db, Driver: driver, Log: log}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("catalogue migration failed: %v", err)
		}
	}
	return nil
}

// rebind turns '?' placeholders into the '$n' form postgres expects.
func (s *Store) rebind(query string) string {
	if s.Driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Insert adds or replaces scenes in a single transaction.
func (s *Store) Insert(ctx context.Context, scenes ...Scene) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO scenes
		(id, collection, path, acquired_ms, polarisations, orbit_pass, platform, crs, min_x, min_y, max_x, max_y)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			collection = excluded.collection, path = excluded.path, acquired_ms = excluded.acquired_ms,
			polarisations = excluded.polarisations, orbit_pass = excluded.orbit_pass, platform = excluded.platform,
			crs = excluded.crs, min_x = excluded.min_x, min_y = excluded.min_y, max_x = excluded.max_x, max_y = excluded.max_y`))
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, sc := range scenes {
		_, err := stmt.ExecContext(ctx, sc.ID, sc.Collection, sc.Path, sc.AcquiredAt.UnixNano()/1e6,
			strings.Join(sc.Polarisations, ","), sc.OrbitPass, sc.Platform, sc.CRS,
			sc.BBox[0], sc.BBox[1], sc.BBox[2], sc.BBox[3])
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting scene %s: %v", sc.ID, err)
		}
	}
	return tx.Commit()
}

// Search returns the scenes matching q in acquisition order.
func (s *Store) Search(ctx context.Context, q Query) ([]Scene, error) {
	pred, err := NewPredicate(q.Predicate)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, collection, path, acquired_ms, polarisations, orbit_pass, platform, crs, min_x, min_y, max_x, max_y
		FROM scenes
		WHERE collection = ? AND acquired_ms >= ? AND acquired_ms < ?
		AND min_x <= ? AND max_x >= ? AND min_y <= ? AND max_y >= ?
		ORDER BY acquired_ms, id`
	args := []interface{}{q.Collection, q.Start.UnixNano() / 1e6, q.End.UnixNano() / 1e6,
		q.BBox[2], q.BBox[0], q.BBox[3], q.BBox[1]}

	t0 := time.Now()
	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("catalogue search failed: %v", err)
	}
	defer rows.Close()

	var scenes []Scene
	for rows.Next() {
		var sc Scene
		var ms int64
		var pols string
		if err := rows.Scan(&sc.ID, &sc.Collection, &sc.Path, &ms, &pols, &sc.OrbitPass, &sc.Platform, &sc.CRS,
			&sc.BBox[0], &sc.BBox[1], &sc.BBox[2], &sc.BBox[3]); err != nil {
			return nil, err
		}
		sc.AcquiredAt = time.Unix(0, ms*int64(time.Millisecond)).UTC()
		if pols != "" {
			sc.Polarisations = strings.Split(pols, ",")
		}
		scenes = append(scenes, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scenes, err = pred.Filter(scenes)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(scenes) > q.Limit {
		scenes = scenes[:q.Limit]
	}
	s.Log.Debugw("catalogue search", "collection", q.Collection, "start", q.Start, "end", q.End, "scenes", len(scenes), "duration", time.Since(t0))
	return scenes, nil
}
