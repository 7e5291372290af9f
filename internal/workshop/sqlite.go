package workshop

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/inkworks/pentrack/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the default Store, one sqlite file per deployment.
type SQLiteStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// OpenSQLite opens (or creates) the store at path and applies pending
// migrations. Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open workshop store: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, clock: timeutil.RealClock{}}, nil
}

// SetClock replaces the store clock; tests only.
func (s *SQLiteStore) SetClock(c timeutil.Clock) {
	s.clock = c
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

func sessionFileName(index int) string {
	return fmt.Sprintf("session-%04d.geojson", index)
}

func workshopDirectory(id string) string {
	return "workshops/" + id
}

// SaveSession appends the FeatureCollection as the next session of the
// workshop, stamping workshopId, sessionIndex, and savedAtEpochMs into
// its top-level properties.
func (s *SQLiteStore) SaveSession(workshopID string, geojson map[string]interface{}, setupDefinition map[string]interface{}) (SessionRef, error) {
	if geojson == nil {
		return SessionRef{}, errors.New("workshop: nil geojson payload")
	}
	nowMs := s.clock.Now().UnixMilli()

	tx, err := s.db.Begin()
	if err != nil {
		return SessionRef{}, fmt.Errorf("begin save session: %w", err)
	}
	defer tx.Rollback()

	var setupText sql.NullString
	if setupDefinition != nil {
		raw, err := json.Marshal(setupDefinition)
		if err != nil {
			return SessionRef{}, fmt.Errorf("encode setup definition: %w", err)
		}
		setupText = sql.NullString{String: string(raw), Valid: true}
	}
	// Setup definition is recorded once, at workshop creation.
	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO workshops (workshop_id, created_at_epoch_ms, setup_definition) VALUES (?, ?, ?)`,
		workshopID, nowMs, setupText,
	); err != nil {
		return SessionRef{}, fmt.Errorf("upsert workshop: %w", err)
	}

	var sessionIndex int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(session_index), 0) + 1 FROM workshop_sessions WHERE workshop_id = ?`,
		workshopID,
	).Scan(&sessionIndex); err != nil {
		return SessionRef{}, fmt.Errorf("next session index: %w", err)
	}

	props, _ := geojson["properties"].(map[string]interface{})
	if props == nil {
		props = map[string]interface{}{}
		geojson["properties"] = props
	}
	props["workshopId"] = workshopID
	props["sessionIndex"] = sessionIndex
	props["savedAtEpochMs"] = nowMs

	body, err := json.Marshal(geojson)
	if err != nil {
		return SessionRef{}, fmt.Errorf("encode session geojson: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO workshop_sessions (workshop_id, session_index, geojson, saved_at_epoch_ms) VALUES (?, ?, ?, ?)`,
		workshopID, sessionIndex, string(body), nowMs,
	); err != nil {
		return SessionRef{}, fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return SessionRef{}, fmt.Errorf("commit save session: %w", err)
	}

	return SessionRef{
		WorkshopID:   workshopID,
		SessionIndex: sessionIndex,
		SessionFile:  sessionFileName(sessionIndex),
	}, nil
}

// ListWorkshops returns all workshops sorted by id.
func (s *SQLiteStore) ListWorkshops() ([]Info, error) {
	rows, err := s.db.Query(`
		SELECT w.workshop_id, COUNT(ws.session_index), COALESCE(MAX(ws.session_index), 0)
		FROM workshops w
		LEFT JOIN workshop_sessions ws ON ws.workshop_id = w.workshop_id
		GROUP BY w.workshop_id
		ORDER BY w.workshop_id`)
	if err != nil {
		return nil, fmt.Errorf("list workshops: %w", err)
	}
	defer rows.Close()

	workshops := []Info{}
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.WorkshopID, &info.SessionCount, &info.LatestSessionIndex); err != nil {
			return nil, fmt.Errorf("scan workshop row: %w", err)
		}
		info.Directory = workshopDirectory(info.WorkshopID)
		workshops = append(workshops, info)
	}
	return workshops, rows.Err()
}

// normalizeMapViewID maps a raw mapViewId property to its canonical
// string form, nil when absent or blank.
func normalizeMapViewID(raw interface{}) *string {
	if raw == nil {
		return nil
	}
	text := strings.TrimSpace(fmt.Sprint(raw))
	if text == "" {
		return nil
	}
	return &text
}

type mapViewGroup struct {
	MapView
	sessionSeen map[int]bool
}

// Results aggregates all sessions of one workshop: per-session summaries
// plus features regrouped by map view. Sessions whose stored payload no
// longer parses are skipped rather than failing the whole query.
func (s *SQLiteStore) Results(workshopID string) (*Results, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM workshops WHERE workshop_id = ?`, workshopID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup workshop: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT session_index, geojson FROM workshop_sessions WHERE workshop_id = ? ORDER BY session_index`,
		workshopID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	results := &Results{
		WorkshopID: workshopID,
		Directory:  workshopDirectory(workshopID),
		Sessions:   []SessionInfo{},
		MapViews:   []MapView{},
	}
	groups := map[string]*mapViewGroup{}

	for rows.Next() {
		var sessionIndex int
		var body string
		if err := rows.Scan(&sessionIndex, &body); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			continue
		}
		features, _ := payload["features"].([]interface{})
		sessionFile := sessionFileName(sessionIndex)

		results.Sessions = append(results.Sessions, SessionInfo{
			SessionIndex: sessionIndex,
			SessionFile:  sessionFile,
			FeatureCount: len(features),
		})

		for _, raw := range features {
			feature, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			props, _ := feature["properties"].(map[string]interface{})
			if props == nil {
				props = map[string]interface{}{}
				feature["properties"] = props
			}

			mapViewID := normalizeMapViewID(props["mapViewId"])
			mapViewName, _ := props["mapViewName"].(string)
			if strings.TrimSpace(mapViewName) == "" {
				if mapViewID != nil {
					mapViewName = "View " + *mapViewID
				} else {
					mapViewName = "Unassigned"
				}
			}

			key := "unassigned"
			if mapViewID != nil {
				key = *mapViewID
			}
			group, ok := groups[key]
			if !ok {
				group = &mapViewGroup{
					MapView: MapView{
						MapViewID:   mapViewID,
						MapViewName: mapViewName,
						Features:    []map[string]interface{}{},
					},
					sessionSeen: map[int]bool{},
				}
				groups[key] = group
			}

			props["sessionIndex"] = sessionIndex
			props["sessionFile"] = sessionFile
			props["workshopId"] = workshopID
			props["mapViewId"] = mapViewID
			props["mapViewName"] = mapViewName

			group.Features = append(group.Features, feature)
			group.sessionSeen[sessionIndex] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	// Named views in id order, then the unassigned bucket.
	keys := make([]string, 0, len(groups))
	for key := range groups {
		if key != "unassigned" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if _, ok := groups["unassigned"]; ok {
		keys = append(keys, "unassigned")
	}
	for _, key := range keys {
		group := groups[key]
		if len(group.Features) == 0 {
			continue
		}
		group.SessionCount = len(group.sessionSeen)
		results.MapViews = append(results.MapViews, group.MapView)
	}

	return results, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
