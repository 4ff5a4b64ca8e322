// Package cli provides CLI output helpers for imgembed.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/imgembed/internal/models"
	"github.com/hyperjump/imgembed/pkg/utils"
)

// OutputFormat is the format for encode output.
type OutputFormat string

const (
	// OutputText is a human-readable summary (default).
	OutputText OutputFormat = "text"
	// OutputJSON is the full response for machine consumption.
	OutputJSON OutputFormat = "json"
)

// previewValues is how many vector elements the text format prints.
const previewValues = 8

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

// WriteResult writes an encode result to w in the given format.
func WriteResult(w io.Writer, source string, resp *models.EmbeddingResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	default:
		writeResultText(w, source, resp)
		return nil
	}
}

func writeResultText(w io.Writer, source string, resp *models.EmbeddingResponse) {
	fmt.Fprintf(w, "%s\n", source)
	fmt.Fprintf(w, "  model:      %s (%s)\n", resp.Model, resp.Device)
	fmt.Fprintf(w, "  content id: %s\n", resp.ContentID)
	fmt.Fprintf(w, "  dimensions: %d  norm: %.4f  time: %dms", resp.Dimensions, utils.L2Norm(resp.Vector), resp.DurationMs)
	if resp.Cached {
		fmt.Fprint(w, "  (cached)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  vector:     %s\n", FormatVector(resp.Vector, previewValues))
}

// FormatVector renders the first n values of v, eliding the rest.
func FormatVector(v []float32, n int) string {
	if n <= 0 || n > len(v) {
		n = len(v)
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%.4f", v[i])
	}
	s := "[" + strings.Join(parts, ", ")
	if n < len(v) {
		s += fmt.Sprintf(", ... (%d more)", len(v)-n)
	}
	return s + "]"
}

// WriteSidecar atomically writes sc as JSON to path.
func WriteSidecar(path string, sc *models.Sidecar) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".imgembed-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close sidecar: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename sidecar: %w", err)
	}
	return nil
}

// ReadSidecar loads a sidecar written by WriteSidecar.
func ReadSidecar(path string) (*models.Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc models.Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse sidecar %s: %w", path, err)
	}
	return &sc, nil
}
