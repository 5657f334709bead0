// Package sqlite persists world entities in a SQLite database so a
// deployment can edit and reload its map without shipping files around.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/mcl.localizer/internal/geo"
	"github.com/banshee-data/mcl.localizer/internal/worldmodel"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store wraps the world database connection.
type Store struct {
	*sql.DB
}

// Open opens (creating if necessary) the world database at path and
// runs any pending schema migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening world db: %w", err)
	}

	s := &Store{db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("world db migration failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[worlddb] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// storedSegment is the JSON shape encoding for one contour edge.
type storedSegment struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// SaveEntity inserts or replaces an entity row.
func (s *Store) SaveEntity(e worldmodel.Entity) error {
	segs := make([]storedSegment, len(e.Shape))
	for i, seg := range e.Shape {
		segs[i] = storedSegment{
			X1: seg.Start.X, Y1: seg.Start.Y,
			X2: seg.End.X, Y2: seg.End.Y,
		}
	}
	shape, err := json.Marshal(segs)
	if err != nil {
		return fmt.Errorf("encoding shape for entity %s: %w", e.ID, err)
	}

	_, err = s.Exec(`
		INSERT INTO entities (id, pose_x, pose_y, pose_yaw, shape)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pose_x = excluded.pose_x,
			pose_y = excluded.pose_y,
			pose_yaw = excluded.pose_yaw,
			shape = excluded.shape,
			updated_at = CURRENT_TIMESTAMP`,
		e.ID, e.Pose.T.X, e.Pose.T.Y, e.Pose.Angle(), string(shape))
	if err != nil {
		return fmt.Errorf("saving entity %s: %w", e.ID, err)
	}
	return nil
}

// DeleteEntity removes an entity row if present.
func (s *Store) DeleteEntity(id string) error {
	if _, err := s.Exec(`DELETE FROM entities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting entity %s: %w", id, err)
	}
	return nil
}

// LoadWorld reads every entity into a fresh in-memory World.
func (s *Store) LoadWorld() (*worldmodel.World, error) {
	rows, err := s.Query(`SELECT id, pose_x, pose_y, pose_yaw, shape FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	w := worldmodel.NewWorld()
	for rows.Next() {
		var (
			id        string
			x, y, yaw float64
			shapeJSON string
		)
		if err := rows.Scan(&id, &x, &y, &yaw, &shapeJSON); err != nil {
			return nil, fmt.Errorf("scanning entity row: %w", err)
		}

		var segs []storedSegment
		if err := json.Unmarshal([]byte(shapeJSON), &segs); err != nil {
			return nil, fmt.Errorf("decoding shape for entity %s: %w", id, err)
		}

		shape := make([]worldmodel.LineSegment, len(segs))
		for i, seg := range segs {
			shape[i] = worldmodel.LineSegment{
				Start: geo.Vec2{X: seg.X1, Y: seg.Y1},
				End:   geo.Vec2{X: seg.X2, Y: seg.Y2},
			}
		}
		w.SetEntity(worldmodel.Entity{
			ID:    id,
			Pose:  geo.NewTransform2(geo.Vec2{X: x, Y: y}, yaw),
			Shape: shape,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity rows: %w", err)
	}
	return w, nil
}
