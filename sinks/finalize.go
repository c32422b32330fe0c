package sinks

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// AppendRunSummary appends summary as one JSON line to the JSONL file
// at jsonlPath, transparently gzip-compressing the line when the path
// ends in ".gz". Used as the fallback when no configured sink exposes
// its own finalize hook for the run's closing summary record.
func AppendRunSummary(jsonlPath string, summary map[string]any) error {
	fp, err := os.OpenFile(jsonlPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sinks: opening %s to append run summary: %w", jsonlPath, err)
	}
	defer fp.Close()

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("sinks: marshaling run summary: %w", err)
	}
	data = append(data, '\n')

	if strings.HasSuffix(strings.ToLower(jsonlPath), ".gz") {
		gz := gzip.NewWriter(fp)
		if _, err := gz.Write(data); err != nil {
			return err
		}
		return gz.Close()
	}
	_, err = fp.Write(data)
	return err
}
