package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/mdobak/go-xerrors"

	"drug-analysis/cloudvision"
	"drug-analysis/db"
	"drug-analysis/drug"
	"drug-analysis/gemini"
	"drug-analysis/imaging"
	"drug-analysis/models"
	"drug-analysis/ocr"
	"drug-analysis/utils"
	"drug-analysis/vision"
)

type apiError struct {
	Message string `json:"message"`
}

type modelHealthResponse struct {
	Models []string                           `json:"models"`
	Health map[string]bool                    `json:"health"`
	Loaded []vision.ModelMetadata             `json:"loaded"`
	Stats  map[string]vision.PerformanceStats `json:"stats"`
}

type catalogResponse struct {
	Stats         drug.CatalogStats `json:"stats"`
	Records       []drug.DrugRecord `json:"records"`
	TotalAnalyses int               `json:"totalAnalyses"`
}

type catalogImportResponse struct {
	Imported int               `json:"imported"`
	Stats    drug.CatalogStats `json:"stats"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

// analysisStore persists completed analyses. A nil client disables
// persistence without affecting the analysis path.
type analysisStore struct {
	client db.DBClient
}

func (s *analysisStore) save(result *drug.AnalysisResult, lat, lng *float64) {
	if s == nil || s.client == nil || result == nil {
		return
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		log.Printf("failed to marshal analysis for storage: %v", err)
		return
	}
	record := &models.AnalysisRecord{
		ID:          utils.GenerateUniqueID(),
		Timestamp:   result.AnalyzedAt,
		DrugName:    result.DrugName,
		Strength:    result.Strength,
		Status:      string(result.Status),
		Confidence:  result.Confidence,
		IsDrugImage: result.IsDrugImage,
		Method:      result.ImageClassification.Method,
		ImageHash:   result.ImageHash,
		LatencyMs:   result.LatencyMs,
		Latitude:    lat,
		Longitude:   lng,
		Result:      json.RawMessage(resultJSON),
	}
	if err := s.client.StoreAnalysis(record); err != nil {
		log.Printf("failed to store analysis: %v", err)
	}
}

// total reports how many analyses have been persisted, zero when
// persistence is disabled or the count fails.
func (s *analysisStore) total() int {
	if s == nil || s.client == nil {
		return 0
	}
	total, err := s.client.TotalAnalyses()
	if err != nil {
		log.Printf("failed to count stored analyses: %v", err)
		return 0
	}
	return total
}

func newAnalyzeHandler(analyzer *drug.Analyzer, store *analysisStore, maxBytes int64) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		started := time.Now()
		contentType := r.Header.Get("Content-Type")

		var (
			result *drug.AnalysisResult
			err    error
			lat    *float64
			lng    *float64
		)
		switch {
		case strings.HasPrefix(contentType, "multipart/form-data"):
			result, err = analyzeMultipart(ctx, analyzer, r, maxBytes)
		case strings.HasPrefix(contentType, "application/json"):
			var capture models.CaptureData
			if decodeErr := json.NewDecoder(r.Body).Decode(&capture); decodeErr != nil {
				logger.ErrorContext(ctx, "failed to parse request body", slog.Any("error", decodeErr))
				writeJSONError(w, http.StatusBadRequest, "invalid request payload")
				return
			}
			if capture.Image == "" {
				writeJSONError(w, http.StatusBadRequest, "no image data received")
				return
			}
			lat, lng = capture.Latitude, capture.Longitude
			result, err = analyzer.AnalyzePayload(ctx, capture.Image, capture.Hints)
		default:
			// Raw image body.
			data, readErr := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
			if readErr != nil {
				logger.ErrorContext(ctx, "failed to read request body", slog.Any("error", readErr))
				writeJSONError(w, http.StatusBadRequest, "unable to read image body")
				return
			}
			result, err = analyzer.AnalyzeBytes(ctx, data, nil)
		}

		if err != nil {
			var verr *imaging.ValidationError
			if errors.As(err, &verr) {
				writeJSONError(w, http.StatusBadRequest, verr.Error())
				return
			}
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "analysis request failed", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "analysis error")
			return
		}

		store.save(result, lat, lng)

		log.Printf("[HTTP] Analysis complete: drug=%s, status=%s, latency=%.2fms\n",
			result.DrugName, result.Status, time.Since(started).Seconds()*1000)
		writeJSON(w, http.StatusOK, result)
	}
}

func analyzeMultipart(ctx context.Context, analyzer *drug.Analyzer, r *http.Request, maxBytes int64) (*drug.AnalysisResult, error) {
	if err := r.ParseMultipartForm(maxBytes + (1 << 20)); err != nil {
		return nil, &imaging.ValidationError{Field: "image", Message: "invalid multipart form"}
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, &imaging.ValidationError{Field: "image", Message: "image file is required"}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, &imaging.ValidationError{Field: "image", Message: "unable to read image file"}
	}

	var hints []string
	if raw := strings.TrimSpace(r.FormValue("hints")); raw != "" {
		for _, h := range strings.Split(raw, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hints = append(hints, h)
			}
		}
	}
	if header != nil && header.Filename != "" {
		hints = append(hints, header.Filename)
	}
	return analyzer.AnalyzeBytes(ctx, data, hints)
}

func newModelHealthHandler(manager *vision.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		writeJSON(w, http.StatusOK, modelHealthResponse{
			Models: manager.Names(),
			Health: manager.HealthCheck(r.Context()),
			Loaded: manager.Metadata(),
			Stats:  manager.AllStats(),
		})
	}
}

func newCatalogHandler(kb *drug.KnowledgeBase, store *analysisStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		writeJSON(w, http.StatusOK, catalogResponse{
			Stats:         kb.Stats(),
			Records:       kb.Records(),
			TotalAnalyses: store.total(),
		})
	}
}

func newCatalogImportHandler(kb *drug.KnowledgeBase, store *analysisStore, catalogPath string) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var reader io.Reader = r.Body
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(32 << 20); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
				return
			}
			file, _, err := r.FormFile("file")
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "csv file is required")
				return
			}
			defer file.Close()
			reader = file
		}

		imported, err := kb.ImportCSV(reader)
		if err != nil {
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "catalog import failed", slog.Any("error", err))
			writeJSONError(w, http.StatusBadRequest, "invalid csv payload")
			return
		}

		if imported > 0 {
			if err := kb.SaveCatalog(catalogPath); err != nil {
				logger.ErrorContext(ctx, "failed to persist catalog file", slog.Any("error", err))
			}
			if store != nil && store.client != nil {
				for _, rec := range kb.Records() {
					if err := store.client.SaveDrugRecord(rec); err != nil {
						log.Printf("failed to store drug record %q: %v", rec.Name, err)
					}
				}
			}
		}

		writeJSON(w, http.StatusOK, catalogImportResponse{
			Imported: imported,
			Stats:    kb.Stats(),
		})
	}
}

func newAnalysesHandler(store *analysisStore) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if store == nil || store.client == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "persistence is disabled")
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		records, err := store.client.RecentAnalyses(limit)
		if err != nil {
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "failed to load analyses", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "failed to load analyses")
			return
		}
		if records == nil {
			records = []models.AnalysisRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func serve(protocol, port string) {
	logger := utils.GetLogger()
	protocol = strings.ToLower(protocol)
	var allowOriginFunc = func(r *http.Request) bool {
		return true
	}

	manager := vision.NewManager(vision.ManagerConfig{
		LoadTimeout:    utils.GetEnvDuration("DRUG_MODEL_LOAD_TIMEOUT", 30*time.Second),
		LoadRetries:    utils.GetEnvInt("DRUG_MODEL_LOAD_RETRIES", 3),
		RetryBaseDelay: utils.GetEnvDuration("DRUG_MODEL_RETRY_BASE_DELAY", 500*time.Millisecond),
		IdleTTL:        utils.GetEnvDuration("DRUG_MODEL_IDLE_TTL", 30*time.Minute),
		SweepSchedule:  utils.GetEnv("DRUG_MODEL_SWEEP_SCHEDULE", "@every 30m"),
		Logger:         logger,
	})

	detectorModel := utils.GetEnv("DRUG_DETECTOR_MODEL", filepath.Join("vision", "pill_detector.json"))
	classifierModel := utils.GetEnv("DRUG_CLASSIFIER_MODEL", filepath.Join("vision", "drug_classifier.json"))
	verifierModel := utils.GetEnv("DRUG_VERIFIER_MODEL", filepath.Join("vision", "authenticity_verifier.json"))
	manager.Register(vision.ModelPillDetector, detectorModel, vision.DetectorLoader(vision.ModelPillDetector, detectorModel))
	manager.Register(vision.ModelDrugClassifier, classifierModel, vision.ClassifierLoader(vision.ModelDrugClassifier, classifierModel))
	manager.Register(vision.ModelAuthenticityVerifier, verifierModel, vision.VerifierLoader(vision.ModelAuthenticityVerifier, verifierModel))
	if err := manager.StartSweeper(); err != nil {
		log.Fatalf("failed to start model sweeper: %v", err)
	}

	scoreThreshold := utils.GetEnvFloat("DRUG_DETECTOR_SCORE_THRESHOLD", 0.5)
	pharmaThreshold := utils.GetEnvFloat("DRUG_CLASSIFIER_THRESHOLD", 0.4)

	registry := drug.NewRegistry()
	if err := registry.Register(drug.NewObjectDetectorBackend(manager, scoreThreshold, pharmaThreshold, logger)); err != nil {
		log.Fatalf("failed to register detector backend: %v", err)
	}
	if err := registry.Register(drug.NewImageClassifierBackend(manager, pharmaThreshold, logger)); err != nil {
		log.Fatalf("failed to register classifier backend: %v", err)
	}
	if err := registry.Register(drug.NewHeuristicBackend(logger)); err != nil {
		log.Fatalf("failed to register heuristic backend: %v", err)
	}

	mode, err := drug.ParseFallbackMode(utils.GetEnv("DRUG_FALLBACK_MODE", "auto"))
	if err != nil {
		log.Fatalf("invalid DRUG_FALLBACK_MODE: %v", err)
	}
	orchestrator := drug.NewOrchestrator(registry, mode,
		utils.GetEnvDuration("DRUG_BACKEND_TIMEOUT", 15*time.Second), logger)

	catalogPath := utils.GetEnv("DRUG_CATALOG_PATH", filepath.Join("drug", "catalog.yaml"))
	kb := drug.NewKnowledgeBase(utils.GetEnvFloat("DRUG_KB_MATCH_THRESHOLD", 0.4), logger)
	loaded, err := kb.LoadCatalog(catalogPath)
	if err != nil {
		log.Fatalf("failed to load drug catalog: %v", err)
	}
	log.Printf("Loaded %d drug records from %s", loaded, catalogPath)

	store := &analysisStore{}
	if utils.GetEnvBool("PERSIST_ANALYSES", true) {
		dbClient, err := db.NewDBClient()
		if err != nil {
			log.Printf("WARNING: persistence disabled, database unavailable: %v\n", err)
		} else {
			store.client = dbClient
			// Catalog entries saved through past imports take effect
			// across restarts.
			if records, err := dbClient.LoadDrugRecords(); err != nil {
				log.Printf("failed to load stored drug records: %v", err)
			} else {
				for _, rec := range records {
					kb.Upsert(rec)
				}
				if len(records) > 0 {
					log.Printf("Merged %d stored drug records into the catalog", len(records))
				}
			}
		}
	}

	var extractor drug.TextExtractor
	if utils.GetEnvBool("DRUG_OCR_ENABLED", true) {
		ocrURL := utils.GetEnv("DRUG_OCR_URL", "http://localhost:5003")
		ocrClient := ocr.NewClient(ocrURL)
		if err := ocrClient.HealthCheck(context.Background()); err != nil {
			log.Printf("WARNING: %v\n", err)
			log.Println("The server will start but text extraction will fail until the OCR service is reachable.")
		} else {
			log.Println("OCR service is available")
		}
		extractor = ocr.NewExtractor(ocrClient, ocr.NewValidator(kb.Names()), logger)
	}

	var remotes []drug.RemoteVision
	if apiKey := utils.GetEnv("GOOGLE_VISION_API_KEY", ""); apiKey != "" {
		visionClient, err := cloudvision.NewClient(apiKey, utils.GetEnvInt("DRUG_REMOTE_RETRIES", 2), logger)
		if err != nil {
			log.Printf("Failed to initialize Cloud Vision adapter: %v\n", err)
		} else {
			remotes = append(remotes, visionClient)
			log.Println("Cloud Vision adapter enabled")
		}
	}
	if apiKey := utils.GetEnv("GEMINI_API_KEY", ""); apiKey != "" {
		geminiClient, err := gemini.NewClient(context.Background(), apiKey, utils.GetEnvInt("DRUG_REMOTE_RETRIES", 2), logger)
		if err != nil {
			log.Printf("Failed to initialize Gemini adapter: %v\n", err)
		} else {
			remotes = append(remotes, geminiClient)
			defer geminiClient.Close()
			log.Println("Gemini adapter enabled")
		}
	}

	maxBytes := int64(utils.GetEnvInt("DRUG_MAX_IMAGE_BYTES", 10<<20))
	limits := imaging.Limits{MaxBytes: maxBytes, AllowedTypes: imaging.DefaultLimits().AllowedTypes}
	analyzer, err := drug.NewAnalyzer(drug.AnalyzerConfig{
		Orchestrator:    orchestrator,
		Extractor:       extractor,
		Remotes:         remotes,
		KB:              kb,
		Assessor:        drug.NewAssessor(logger),
		Manager:         manager,
		Limits:          limits,
		PipelineTimeout: utils.GetEnvDuration("DRUG_PIPELINE_TIMEOUT", 60*time.Second),
		Logger:          logger,
	})
	if err != nil {
		log.Fatalf("failed to build analyzer: %v", err)
	}

	controller := newSocketController(analyzer, kb, manager, store)

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})

	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		connURL := socket.URL()
		log.Printf("CONNECTED: %s, transport: %s, remote addr: %s\n", socket.ID(), connURL.String(), socket.RemoteAddr())
		controller.emitCatalogInfo(socket)
		return nil
	})

	server.OnEvent("/", "requestCatalogInfo", func(socket socketio.Conn) {
		log.Printf("requestCatalogInfo received from %s\n", socket.ID())
		controller.handleRequestCatalogInfo(socket)
	})

	server.OnEvent("/", "newCapture", func(socket socketio.Conn, msg string) {
		log.Printf("=== newCapture event received from %s, data length: %d ===\n", socket.ID(), len(msg))
		// Run handler in goroutine to prevent blocking, with panic recovery
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("panic in handleNewCapture for socket %s: %v\n", socket.ID(), r)
					socket.Emit("analysisError", map[string]string{"message": "internal server error during processing"})
				}
			}()
			controller.handleNewCapture(socket, msg)
		}()
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("socketio listen error: %s\n", err)
		}
	}()
	defer server.Close()

	serveHTTPS := protocol == "https"

	analyzeHandler := newAnalyzeHandler(analyzer, store, maxBytes)
	healthHandler := newModelHealthHandler(manager)
	catalogHandler := newCatalogHandler(kb, store)
	importHandler := newCatalogImportHandler(kb, store, catalogPath)
	analysesHandler := newAnalysesHandler(store)
	mux := http.NewServeMux()
	mux.Handle("/socket.io/", server)
	mux.HandleFunc("/api/images/analyze", analyzeHandler)
	mux.HandleFunc("/api/models/health", healthHandler)
	mux.HandleFunc("/api/catalog", catalogHandler)
	mux.HandleFunc("/api/catalog/import", importHandler)
	mux.HandleFunc("/api/analyses", analysesHandler)
	mux.Handle("/", http.FileServer(http.Dir("static")))

	serveHTTP(server, serveHTTPS, port, mux)
}

func serveHTTP(socketServer *socketio.Server, serveHTTPS bool, port string, handler http.Handler) {
	if handler == nil {
		handler = socketServer
	}
	if serveHTTPS {
		httpsAddr := ":" + port
		httpsServer := &http.Server{
			Addr: httpsAddr,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			Handler: handler,
		}

		cert_key_default := "/etc/letsencrypt/live/localport.online/privkey.pem"
		cert_file_default := "/etc/letsencrypt/live/localport.online/fullchain.pem"

		cert_key := utils.GetEnv("CERT_KEY", cert_key_default)
		cert_file := utils.GetEnv("CERT_FILE", cert_file_default)
		if cert_key == "" || cert_file == "" {
			log.Fatal("Missing cert")
		}

		log.Printf("Starting HTTPS server on %s\n", httpsAddr)
		if err := httpsServer.ListenAndServeTLS(cert_file, cert_key); err != nil {
			log.Fatalf("HTTPS server ListenAndServeTLS: %v", err)
		}
	}

	log.Printf("Starting HTTP server on port %v", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("HTTP server ListenAndServe: %v", err)
	}
}
