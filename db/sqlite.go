package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"drug-analysis/drug"
	"drug-analysis/models"
	"drug-analysis/utils"
)

type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %s", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %s", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("error creating tables: %s", err)
	}

	return &SQLiteClient{db: db}, nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createAnalysesTable := `
    CREATE TABLE IF NOT EXISTS analyses (
        id TEXT PRIMARY KEY,
        timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        drug_name TEXT,
        strength TEXT,
        status TEXT NOT NULL,
        confidence REAL NOT NULL DEFAULT 0,
        is_drug_image INTEGER NOT NULL DEFAULT 0,
        method TEXT,
        image_hash TEXT,
        latency_ms REAL NOT NULL DEFAULT 0,
        latitude REAL,
        longitude REAL,
        result TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_analyses_timestamp ON analyses(timestamp);
    CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
    CREATE INDEX IF NOT EXISTS idx_analyses_drug_name ON analyses(drug_name);
    `

	createDrugsTable := `
    CREATE TABLE IF NOT EXISTS drugs (
        name TEXT PRIMARY KEY,
        aliases TEXT,
        strengths TEXT,
        colors TEXT,
        shapes TEXT,
        markings TEXT,
        manufacturers TEXT,
        category TEXT
    );
    `

	if _, err := db.Exec(createAnalysesTable); err != nil {
		return fmt.Errorf("error creating analyses table: %s", err)
	}
	if _, err := db.Exec(createDrugsTable); err != nil {
		return fmt.Errorf("error creating drugs table: %s", err)
	}
	return nil
}

func (s *SQLiteClient) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StoreAnalysis stores one analysis record
func (s *SQLiteClient) StoreAnalysis(record *models.AnalysisRecord) error {
	isDrugInt := 0
	if record.IsDrugImage {
		isDrugInt = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO analyses (
			id, timestamp, drug_name, strength, status, confidence,
			is_drug_image, method, image_hash, latency_ms,
			latitude, longitude, result
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Timestamp,
		record.DrugName,
		record.Strength,
		record.Status,
		record.Confidence,
		isDrugInt,
		record.Method,
		record.ImageHash,
		record.LatencyMs,
		record.Latitude,
		record.Longitude,
		string(record.Result),
	)
	if err != nil {
		return fmt.Errorf("error storing analysis: %s", err)
	}
	return nil
}

// RecentAnalyses retrieves the newest analysis records
func (s *SQLiteClient) RecentAnalyses(limit int) ([]models.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, timestamp, drug_name, strength, status, confidence,
		       is_drug_image, method, image_hash, latency_ms,
		       latitude, longitude, result
		FROM analyses
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying analyses: %s", err)
	}
	defer rows.Close()

	var records []models.AnalysisRecord
	for rows.Next() {
		var r models.AnalysisRecord
		var isDrugInt int
		var resultJSON string

		err := rows.Scan(
			&r.ID,
			&r.Timestamp,
			&r.DrugName,
			&r.Strength,
			&r.Status,
			&r.Confidence,
			&isDrugInt,
			&r.Method,
			&r.ImageHash,
			&r.LatencyMs,
			&r.Latitude,
			&r.Longitude,
			&resultJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning analysis: %s", err)
		}

		r.IsDrugImage = isDrugInt == 1
		r.Result = json.RawMessage(resultJSON)
		records = append(records, r)
	}

	return records, nil
}

func (s *SQLiteClient) TotalAnalyses() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM analyses").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting analyses: %s", err)
	}
	return count, nil
}

// SaveDrugRecord inserts or replaces one catalog entry
func (s *SQLiteClient) SaveDrugRecord(rec drug.DrugRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %s", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO drugs (
			name, aliases, strengths, colors, shapes,
			markings, manufacturers, category
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error preparing statement: %s", err)
	}
	defer stmt.Close()

	if _, err := stmt.Exec(
		strings.ToLower(rec.Name),
		marshalList(rec.Aliases),
		marshalList(rec.Strengths),
		marshalList(rec.Colors),
		marshalList(rec.Shapes),
		marshalList(rec.Markings),
		marshalList(rec.Manufacturers),
		rec.Category,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("error executing statement: %s", err)
	}

	return tx.Commit()
}

// LoadDrugRecords retrieves the full stored catalog
func (s *SQLiteClient) LoadDrugRecords() ([]drug.DrugRecord, error) {
	rows, err := s.db.Query(`
		SELECT name, aliases, strengths, colors, shapes,
		       markings, manufacturers, category
		FROM drugs
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("error querying drugs: %s", err)
	}
	defer rows.Close()

	var records []drug.DrugRecord
	for rows.Next() {
		var rec drug.DrugRecord
		var aliases, strengths, colors, shapes, markings, manufacturers string

		err := rows.Scan(
			&rec.Name,
			&aliases,
			&strengths,
			&colors,
			&shapes,
			&markings,
			&manufacturers,
			&rec.Category,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning drug record: %s", err)
		}

		rec.Aliases = unmarshalList(aliases)
		rec.Strengths = unmarshalList(strengths)
		rec.Colors = unmarshalList(colors)
		rec.Shapes = unmarshalList(shapes)
		rec.Markings = unmarshalList(markings)
		rec.Manufacturers = unmarshalList(manufacturers)
		records = append(records, rec)
	}

	return records, nil
}

func marshalList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalList(data string) []string {
	if data == "" || data == "[]" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil
	}
	return values
}
