package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func marshalReport(report *Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling report: %w", err)
	}

	return append(data, '\n'), nil
}

// ReadReport reads the last run report of a projects directory.
func ReadReport(root string) (*Report, error) {
	data, err := os.ReadFile(filepath.Join(root, ReportFile))
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}

	return &report, nil
}
