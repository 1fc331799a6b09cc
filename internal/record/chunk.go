package record

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/VenketeszRR/fraudlens/pkg/errors"
)

// chunkColumns is the fixed header of every chunk file produced by the
// ingestion feed.
var chunkColumns = []string{
	"step", "customer", "age", "gender", "zipcodeOri", "merchant",
	"zipMerchant", "category", "amount", "fraud", "ingestion_timestamp",
}

// ChunkResult is the outcome of reading one chunk file.
type ChunkResult struct {
	Records []Transaction
	Skipped int
}

// ReadChunk parses a header-bearing chunk CSV. Malformed rows (wrong column
// count, unparsable numerics) are skipped and counted rather than failing the
// chunk; a missing or wrong header fails the whole file.
func ReadChunk(path string) (ChunkResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("opening chunk %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return ChunkResult{}, apperrors.Newf(apperrors.ErrChunkMalformed, false, "reading header of %s: %v", path, err)
	}
	if err := validateHeader(header); err != nil {
		return ChunkResult{}, apperrors.Newf(apperrors.ErrChunkMalformed, false, "chunk %s: %v", path, err)
	}

	var result ChunkResult
	logger := slog.Default().With("component", "chunk-reader", "chunk", path)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Skipped++
			logger.Warn("skipping unreadable row", "error", err)
			continue
		}
		txn, err := parseRow(row)
		if err != nil {
			result.Skipped++
			logger.Warn("skipping malformed row", "error", err)
			continue
		}
		result.Records = append(result.Records, txn)
	}
	return result, nil
}

func validateHeader(header []string) error {
	if len(header) != len(chunkColumns) {
		return fmt.Errorf("expected %d columns, got %d", len(chunkColumns), len(header))
	}
	for i, col := range chunkColumns {
		if strings.TrimSpace(header[i]) != col {
			return fmt.Errorf("column %d: expected %q, got %q", i, col, header[i])
		}
	}
	return nil
}

func parseRow(row []string) (Transaction, error) {
	if len(row) != len(chunkColumns) {
		return Transaction{}, fmt.Errorf("expected %d fields, got %d", len(chunkColumns), len(row))
	}
	step, err := strconv.Atoi(strings.TrimSpace(row[0]))
	if err != nil {
		return Transaction{}, fmt.Errorf("parsing step %q: %w", row[0], err)
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(row[8]), 64)
	if err != nil {
		return Transaction{}, fmt.Errorf("parsing amount %q: %w", row[8], err)
	}
	fraud, err := strconv.Atoi(strings.TrimSpace(row[9]))
	if err != nil {
		return Transaction{}, fmt.Errorf("parsing fraud flag %q: %w", row[9], err)
	}
	return Transaction{
		Step:        step,
		Customer:    strings.TrimSpace(row[1]),
		Age:         strings.TrimSpace(row[2]),
		Gender:      strings.TrimSpace(row[3]),
		OriginZip:   strings.TrimSpace(row[4]),
		Merchant:    strings.TrimSpace(row[5]),
		MerchantZip: strings.TrimSpace(row[6]),
		Category:    strings.TrimSpace(row[7]),
		Amount:      amount,
		Fraud:       fraud,
		IngestedAt:  strings.TrimSpace(row[10]),
	}, nil
}
