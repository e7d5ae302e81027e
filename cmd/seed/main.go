package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"drawing-query/internal/config"
	"drawing-query/internal/infra/corpus"
)

func main() {
	// ---- Config ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	dir := flag.String("dir", "", "corpus directory (overrides corpus.dir)")
	flag.Parse()

	root := *dir
	if root == "" {
		cfg, err := config.LoadConfig(*cfgPath, false)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		root = cfg.Corpus.Dir
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		log.Fatalf("create corpus dir: %v", err)
	}

	c, err := corpus.NewFSCorpus(root)
	if err != nil {
		log.Fatalf("corpus: %v", err)
	}

	// If drawings already exist, do nothing
	existing, err := c.ListAvailable(context.Background())
	if err != nil {
		log.Fatalf("list drawings: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d drawings already present. No changes.\n", len(existing))
		for name := range existing {
			fmt.Printf("  - %s\n", name)
		}
		return
	}

	// Seed a small plant so the query flow can be tried end to end
	seed := []struct {
		Name  string
		Meta  corpus.Metadata
		Units map[string]string
	}{
		{
			Name: "PID-100",
			Meta: corpus.Metadata{Type: "pid", Title: "Feed water system", Sheets: 2, Tags: []string{"PV-101", "P-101A"}},
			Units: map[string]string{
				"sheet-01": "PV-101 control valve, 4\" class 150, fail closed. Upstream of P-101A.",
				"sheet-02": "P-101A centrifugal pump, 45 m3/h at 60 m head. Suction from T-100.",
			},
		},
		{
			Name: "PID-200",
			Meta: corpus.Metadata{Type: "pid", Title: "Steam header", Sheets: 1, Tags: []string{"PSV-201"}},
			Units: map[string]string{
				"sheet-01": "PSV-201 relief valve set at 10 barg on 6\" header. Discharges to atmosphere.",
			},
		},
		{
			Name: "ISO-310",
			Meta: corpus.Metadata{Type: "isometric", Title: "Line 310-CS-4", Sheets: 1},
			Units: map[string]string{
				"sheet-01": "Line 310-CS-4, carbon steel, 4\" sch 40. Connects P-101A discharge to E-300.",
			},
		},
		{
			Name: "LAYOUT-01",
			Meta: corpus.Metadata{Type: "layout", Title: "Pump bay"},
			Units: map[string]string{
				"plan": "Pump bay holds P-101A and P-101B. Access from grid line C.",
			},
		},
	}

	for _, s := range seed {
		if err := corpus.WriteDrawing(root, s.Name, s.Meta, s.Units); err != nil {
			log.Fatalf("write %s: %v", s.Name, err)
		}
		fmt.Printf("seeded %s (%s, %d units)\n", s.Name, s.Meta.Type, len(s.Units))
	}
}
