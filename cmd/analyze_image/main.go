package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"drug-analysis/drug"
	"drug-analysis/vision"
)

func main() {
	imagePath := flag.String("image", "", "Image file to analyze")
	catalogPath := flag.String("catalog", "drug/catalog.yaml", "Drug catalog YAML file")
	classifierPath := flag.String("classifier", "vision/drug_classifier.json", "Classifier artifact")
	detectorPath := flag.String("detector", "vision/pill_detector.json", "Detector artifact")
	verifierPath := flag.String("verifier", "vision/authenticity_verifier.json", "Verifier artifact")
	mode := flag.String("mode", "auto", "Fallback mode (auto/object-detector-first/classifier-first/heuristic-only)")
	hintsArg := flag.String("hints", "", "Comma-separated hint labels")
	pretty := flag.Bool("pretty", true, "Indent the JSON output")
	flag.Parse()

	if *imagePath == "" {
		log.Fatal("Usage: go run . -image <file> [-catalog <file>] [-mode auto] [-hints pill,tablet]")
	}

	data, err := os.ReadFile(*imagePath)
	if err != nil {
		log.Fatalf("failed to read image: %v", err)
	}

	var hints []string
	for _, h := range strings.Split(*hintsArg, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hints = append(hints, h)
		}
	}

	fallbackMode, err := drug.ParseFallbackMode(*mode)
	if err != nil {
		log.Fatalf("invalid mode: %v", err)
	}

	manager := vision.NewManager(vision.ManagerConfig{})
	manager.Register(vision.ModelPillDetector, *detectorPath,
		vision.DetectorLoader(vision.ModelPillDetector, *detectorPath))
	manager.Register(vision.ModelDrugClassifier, *classifierPath,
		vision.ClassifierLoader(vision.ModelDrugClassifier, *classifierPath))
	manager.Register(vision.ModelAuthenticityVerifier, *verifierPath,
		vision.VerifierLoader(vision.ModelAuthenticityVerifier, *verifierPath))

	registry := drug.NewRegistry()
	if err := registry.Register(drug.NewObjectDetectorBackend(manager, 0.5, 0.4, nil)); err != nil {
		log.Fatalf("failed to register detector backend: %v", err)
	}
	if err := registry.Register(drug.NewImageClassifierBackend(manager, 0.4, nil)); err != nil {
		log.Fatalf("failed to register classifier backend: %v", err)
	}
	if err := registry.Register(drug.NewHeuristicBackend(nil)); err != nil {
		log.Fatalf("failed to register heuristic backend: %v", err)
	}

	kb := drug.NewKnowledgeBase(0, nil)
	loaded, err := kb.LoadCatalog(*catalogPath)
	if err != nil {
		log.Fatalf("failed to load catalog: %v", err)
	}
	log.Printf("Loaded %d drug records\n", loaded)

	analyzer, err := drug.NewAnalyzer(drug.AnalyzerConfig{
		Orchestrator: drug.NewOrchestrator(registry, fallbackMode, 0, nil),
		KB:           kb,
		Assessor:     drug.NewAssessor(nil),
		Manager:      manager,
	})
	if err != nil {
		log.Fatalf("failed to build analyzer: %v", err)
	}

	started := time.Now()
	result, err := analyzer.AnalyzeBytes(context.Background(), data, hints)
	if err != nil {
		log.Fatalf("analysis rejected: %v", err)
	}

	log.Printf("Analyzed %s in %.2fms\n", *imagePath, time.Since(started).Seconds()*1000)
	log.Printf("  Drug:       %s\n", result.DrugName)
	log.Printf("  Status:     %s\n", result.Status)
	log.Printf("  Confidence: %.2f\n", result.Confidence)
	log.Printf("  Method:     %s\n", result.ImageClassification.Method)
	log.Println()

	var out []byte
	if *pretty {
		out, err = json.MarshalIndent(result, "", "  ")
	} else {
		out, err = json.Marshal(result)
	}
	if err != nil {
		log.Fatalf("failed to encode result: %v", err)
	}
	fmt.Println(string(out))
}
