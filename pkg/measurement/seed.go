package measurement

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type seedEntry struct {
	Patient         string            `yaml:"patient"`
	Code            string            `yaml:"code"`
	Value           string            `yaml:"value"`
	Unit            string            `yaml:"unit"`
	ValidTime       time.Time         `yaml:"valid_time"`
	TransactionTime time.Time         `yaml:"transaction_time"`
	Metadata        map[string]string `yaml:"metadata"`
}

type seedFile struct {
	Measurements []seedEntry `yaml:"measurements"`
}

// LoadSeed reads a YAML measurement set and resolves every identifier
// through the catalog, so seed files may use component aliases.
func LoadSeed(path string, resolver Resolver) ([]Record, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var raw seedFile
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(raw.Measurements))
	for i, entry := range raw.Measurements {
		code, err := resolver.Resolve(entry.Code)
		if err != nil {
			return nil, fmt.Errorf("seed entry %d: %w", i, err)
		}
		if entry.Patient == "" {
			return nil, fmt.Errorf("seed entry %d: patient required", i)
		}
		if entry.ValidTime.IsZero() {
			return nil, fmt.Errorf("seed entry %d: valid_time required", i)
		}
		txn := entry.TransactionTime
		if txn.IsZero() {
			txn = entry.ValidTime
		}
		records = append(records, Record{
			Patient:         entry.Patient,
			Code:            code,
			Value:           entry.Value,
			Unit:            entry.Unit,
			ValidTime:       entry.ValidTime,
			TransactionTime: txn,
			Metadata:        entry.Metadata,
		})
	}
	return records, nil
}
