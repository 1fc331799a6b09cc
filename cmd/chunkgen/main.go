// Command chunkgen generates synthetic transaction chunk files for local
// engine runs, standing in for the external ingestion feed. Chunks are
// written in order with sequence-numbered names and an optional delay between
// them so the watcher sees a realistic arrival cadence.
//
// Usage:
//
//	go run ./cmd/chunkgen -out data/chunks -chunks 20 -rows 1000 -interval 5s
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

func main() {
	outDir := flag.String("out", "data/chunks", "directory to write chunk files into")
	refPath := flag.String("ref", "", "also write an importance table to this path")
	chunks := flag.Int("chunks", 10, "number of chunk files to generate")
	rows := flag.Int("rows", 1000, "transaction rows per chunk")
	customers := flag.Int("customers", 200, "distinct customers")
	merchants := flag.Int("merchants", 30, "distinct merchants")
	interval := flag.Duration("interval", 0, "delay between chunks (0 = all at once)")
	seed := flag.Int64("seed", 42, "random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "creating output dir: %v\n", err)
		os.Exit(1)
	}

	if *refPath != "" {
		if err := writeReference(*refPath, *customers, *merchants, rng); err != nil {
			fmt.Fprintf(os.Stderr, "writing reference table: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote importance table: %s\n", *refPath)
	}

	for i := 0; i < *chunks; i++ {
		name := fmt.Sprintf("chunk_%06d.csv", i)
		path := filepath.Join(*outDir, name)
		if err := writeChunk(path, i, *rows, *customers, *merchants, rng); err != nil {
			fmt.Fprintf(os.Stderr, "writing %s: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s (%d rows)\n", path, *rows)
		if *interval > 0 && i < *chunks-1 {
			time.Sleep(*interval)
		}
	}
}

var categories = []string{
	"es_transportation", "es_food", "es_health", "es_wellnessandbeauty",
	"es_fashion", "es_barsandrestaurants", "es_hyper", "es_sportsandtoys",
	"es_tech", "es_home", "es_otherservices", "es_hotelservices",
	"es_leisure", "es_travel", "es_contents",
}

var genders = []string{"M", "F", "E", "U"}

func writeChunk(path string, step, rows, customers, merchants int, rng *rand.Rand) error {
	// Write via a temp file so the watcher never reads a half-written chunk.
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"step", "customer", "age", "gender", "zipcodeOri", "merchant",
		"zipMerchant", "category", "amount", "fraud", "ingestion_timestamp",
	}); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for i := 0; i < rows; i++ {
		amount := rng.Float64() * 500
		// Bias a slice of traffic toward small amounts so the low-value
		// high-frequency rule has something to find.
		if rng.Intn(4) == 0 {
			amount = rng.Float64() * 23
		}
		fraud := 0
		if rng.Intn(200) == 0 {
			fraud = 1
		}
		row := []string{
			strconv.Itoa(step),
			fmt.Sprintf("C%04d", rng.Intn(customers)),
			strconv.Itoa(18 + rng.Intn(60)),
			genders[rng.Intn(len(genders))],
			"28007",
			fmt.Sprintf("M%04d", rng.Intn(merchants)),
			"28007",
			categories[rng.Intn(len(categories))],
			strconv.FormatFloat(amount, 'f', 2, 64),
			strconv.Itoa(fraud),
			now,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeReference(path string, customers, merchants int, rng *rand.Rand) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Source", "Target", "Weight"}); err != nil {
		return err
	}
	for c := 0; c < customers; c++ {
		for m := 0; m < merchants; m++ {
			if rng.Intn(3) != 0 {
				continue
			}
			row := []string{
				fmt.Sprintf("C%04d", c),
				fmt.Sprintf("M%04d", m),
				strconv.FormatFloat(rng.Float64(), 'f', 6, 64),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}
