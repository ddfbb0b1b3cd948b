package models

import (
	"encoding/json"
	"time"
)

// CaptureData is one image submission from a client, with the picture
// base64 encoded.
type CaptureData struct {
	Image     string   `json:"image"`
	MimeType  string   `json:"mimeType,omitempty"`
	Filename  string   `json:"filename,omitempty"`
	Hints     []string `json:"hints,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// AnalysisRecord is the persisted form of one completed analysis. Result
// holds the full analysis document as JSON; the scalar columns exist for
// querying and listing.
type AnalysisRecord struct {
	ID          string          `json:"id" bson:"id"`
	Timestamp   time.Time       `json:"timestamp" bson:"timestamp"`
	DrugName    string          `json:"drugName" bson:"drugName"`
	Strength    string          `json:"strength,omitempty" bson:"strength,omitempty"`
	Status      string          `json:"status" bson:"status"`
	Confidence  float64         `json:"confidence" bson:"confidence"`
	IsDrugImage bool            `json:"isDrugImage" bson:"isDrugImage"`
	Method      string          `json:"detectionMethod,omitempty" bson:"detectionMethod,omitempty"`
	ImageHash   string          `json:"imageHash,omitempty" bson:"imageHash,omitempty"`
	LatencyMs   float64         `json:"latencyMs" bson:"latencyMs"`
	Latitude    *float64        `json:"latitude,omitempty" bson:"latitude,omitempty"`
	Longitude   *float64        `json:"longitude,omitempty" bson:"longitude,omitempty"`
	Result      json.RawMessage `json:"result" bson:"result"`
}
