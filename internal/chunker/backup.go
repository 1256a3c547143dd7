package chunker

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// parseBackup reads an exported q,a[,index...] CSV. A leading q,a header row is skipped.
func parseBackup(rawText string, imageIDs []string) ([]Chunk, error) {
	r := csv.NewReader(strings.NewReader(rawText))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var chunks []Chunk
	for row := 0; ; row++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse backup csv: %w", err)
		}
		if row == 0 && isBackupHeader(record) {
			continue
		}

		chunk := Chunk{ImageIDs: imageIDs}
		if len(record) > 0 {
			chunk.Q = record[0]
		}
		if len(record) > 1 {
			chunk.A = record[1]
		}
		if chunk.Q == "" && chunk.A == "" {
			continue
		}
		for _, cell := range record[min(2, len(record)):] {
			if strings.TrimSpace(cell) != "" {
				chunk.Indexes = append(chunk.Indexes, cell)
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func isBackupHeader(record []string) bool {
	return len(record) >= 2 &&
		strings.EqualFold(strings.TrimSpace(record[0]), "q") &&
		strings.EqualFold(strings.TrimSpace(record[1]), "a")
}
