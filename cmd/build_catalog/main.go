package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"sort"

	"drug-analysis/drug"
)

func main() {
	csvPath := flag.String("csv", "", "CSV file with drug records (columns: name,aliases,strengths,colors,shapes,markings,manufacturers,category)")
	outputFile := flag.String("out", "drug/catalog.yaml", "Output catalog YAML file")
	merge := flag.Bool("merge", true, "Merge into the existing catalog instead of replacing it")
	flag.Parse()

	if *csvPath == "" {
		log.Fatal("Usage: go run . -csv <file> [-out <file>] [-merge=false]\n\n" +
			"Example CSV row:\n" +
			"  paracetamol,acetaminophen;panadol,500mg;650mg,white,round,P500,GSK,analgesic\n" +
			"Multi-value cells are semicolon separated.\n")
	}

	kb := drug.NewKnowledgeBase(0, nil)

	if *merge {
		if loaded, err := kb.LoadCatalog(*outputFile); err == nil {
			log.Printf("Loaded %d existing records from %s\n", loaded, *outputFile)
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Printf("WARNING: could not load existing catalog: %v\n", err)
		}
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("failed to open CSV file: %v", err)
	}
	defer file.Close()

	imported, err := kb.ImportCSV(file)
	if err != nil {
		log.Fatalf("failed to import CSV: %v", err)
	}
	log.Printf("Imported %d records from %s\n", imported, *csvPath)

	if err := kb.SaveCatalog(*outputFile); err != nil {
		log.Fatalf("failed to save catalog: %v", err)
	}

	stats := kb.Stats()
	log.Println()
	log.Printf("Catalog saved to %s\n", *outputFile)
	log.Printf("  Records:    %d\n", stats.Records)
	log.Printf("  Strengths:  %d\n", stats.Strengths)
	log.Printf("  Categories: %d\n", len(stats.Categories))
	log.Println()

	var categories []string
	for category := range stats.Categories {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	log.Println("Records per category:")
	for _, category := range categories {
		log.Printf("  %-20s: %3d\n", category, stats.Categories[category])
	}
	log.Println()
	log.Println("✓ Catalog build complete!")
}
