// Package db persists analysis records and catalog entries behind a small
// client interface, backed by SQLite or MongoDB.
package db

import (
	"fmt"

	"drug-analysis/drug"
	"drug-analysis/models"
	"drug-analysis/utils"
)

// DBClient is the persistence contract the server composes against.
type DBClient interface {
	StoreAnalysis(record *models.AnalysisRecord) error
	RecentAnalyses(limit int) ([]models.AnalysisRecord, error)
	TotalAnalyses() (int, error)
	SaveDrugRecord(rec drug.DrugRecord) error
	LoadDrugRecords() ([]drug.DrugRecord, error)
	Close() error
}

// NewDBClient selects the backing store from DB_TYPE: "sqlite" (default)
// or "mongo".
func NewDBClient() (DBClient, error) {
	dbType := utils.GetEnv("DB_TYPE", "sqlite")

	switch dbType {
	case "sqlite":
		dataSource := utils.GetEnv("SQLITE_DB_PATH", "storage/drug-analysis.db")
		return NewSQLiteClient(dataSource)
	case "mongo":
		uri := utils.GetEnv("MONGO_URI", "mongodb://localhost:27017")
		return NewMongoClient(uri)
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE: %s", dbType)
	}
}
