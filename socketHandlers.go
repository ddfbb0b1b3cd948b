package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"time"

	"drug-analysis/drug"
	"drug-analysis/imaging"
	"drug-analysis/models"
	"drug-analysis/utils"
	"drug-analysis/vision"

	socketio "github.com/googollee/go-socket.io"
	"github.com/mdobak/go-xerrors"
)

type socketController struct {
	analyzer *drug.Analyzer
	kb       *drug.KnowledgeBase
	manager  *vision.Manager
	store    *analysisStore
}

func newSocketController(analyzer *drug.Analyzer, kb *drug.KnowledgeBase, manager *vision.Manager, store *analysisStore) *socketController {
	return &socketController{analyzer: analyzer, kb: kb, manager: manager, store: store}
}

type catalogInfo struct {
	Stats         drug.CatalogStats `json:"stats"`
	Models        []string          `json:"models"`
	TotalAnalyses int               `json:"totalAnalyses"`
}

func (c *socketController) emitCatalogInfo(socket socketio.Conn) {
	info := catalogInfo{
		Stats:         c.kb.Stats(),
		Models:        c.manager.Names(),
		TotalAnalyses: c.store.total(),
	}
	socket.Emit("catalogInfo", info)
}

func (c *socketController) handleRequestCatalogInfo(socket socketio.Conn) {
	c.emitCatalogInfo(socket)
}

func (c *socketController) handleNewCapture(socket socketio.Conn, captureData string) {
	logger := utils.GetLogger()
	ctx := context.Background()

	log.Printf("[handleNewCapture] Starting for socket %s, data length: %d\n", socket.ID(), len(captureData))
	logger.InfoContext(ctx, "handleNewCapture called",
		slog.String("socketID", socket.ID()),
		slog.Int("dataLength", len(captureData)),
	)

	if captureData == "" {
		logger.ErrorContext(ctx, "no data received in newCapture event")
		socket.Emit("analysisError", map[string]string{"message": "no image data received"})
		return
	}

	var capture models.CaptureData
	if err := json.Unmarshal([]byte(captureData), &capture); err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "failed to parse capture payload", slog.Any("error", err))
		socket.Emit("analysisError", map[string]string{"message": "invalid capture payload"})
		return
	}

	if capture.Image == "" {
		socket.Emit("analysisError", map[string]string{"message": "no image data received"})
		return
	}

	log.Printf("[handleNewCapture] Parsed capture data: mimeType=%s, filename=%s, hints=%d\n",
		capture.MimeType, capture.Filename, len(capture.Hints))
	logger.InfoContext(ctx, "received capture",
		slog.String("socketID", socket.ID()),
		slog.String("mimeType", capture.MimeType),
		slog.String("filename", capture.Filename),
		slog.Int("hintCount", len(capture.Hints)),
	)

	started := time.Now()

	log.Printf("[handleNewCapture] Running analysis for socket %s\n", socket.ID())
	result, err := c.analyzer.AnalyzePayload(ctx, capture.Image, capture.Hints)
	if err != nil {
		var verr *imaging.ValidationError
		if errors.As(err, &verr) {
			socket.Emit("analysisError", map[string]string{"message": verr.Error()})
			return
		}
		err := xerrors.New(err)
		log.Printf("[handleNewCapture] Analysis error for socket %s: %v\n", socket.ID(), err)
		logger.ErrorContext(ctx, "failed to analyze capture", slog.Any("error", err))
		socket.Emit("analysisError", map[string]string{"message": "analysis error"})
		return
	}

	latency := time.Since(started).Seconds() * 1000
	log.Printf("[handleNewCapture] Analysis complete for socket %s: drug=%s, status=%s\n",
		socket.ID(), result.DrugName, result.Status)
	logger.InfoContext(ctx, "analysis complete",
		slog.String("socketID", socket.ID()),
		slog.Float64("latency_ms", latency),
		slog.String("drugName", result.DrugName),
		slog.String("status", string(result.Status)),
		slog.Float64("confidence", result.Confidence),
		slog.Bool("isDrugImage", result.IsDrugImage),
	)

	c.store.save(result, capture.Latitude, capture.Longitude)

	log.Printf("[handleNewCapture] Preparing to emit result for socket %s\n", socket.ID())
	socket.Emit("analysisResult", result)
	log.Printf("[handleNewCapture] Emitted result for socket %s\n", socket.ID())
	logger.InfoContext(ctx, "successfully emitted analysis result",
		slog.String("socketID", socket.ID()),
	)
}
