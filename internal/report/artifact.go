package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/scanning"
)

const (
	artifactDirPerm  = 0750
	artifactFilePerm = 0600
)

// ArtifactName returns the file name used for a summary:
// scan_<target>_<timestamp>.json, with '/' in the target replaced by '_'.
func ArtifactName(summary *scanning.ScanSummary) string {
	target := strings.ReplaceAll(summary.Target, "/", "_")
	return fmt.Sprintf("scan_%s_%s.json", target, summary.Timestamp.UTC().Format(scanning.TimestampLayout))
}

// WriteJSON writes the summary into dir, creating dir if needed, and returns
// the path of the new file.
func WriteJSON(dir string, summary *scanning.ScanSummary) (string, error) {
	if err := os.MkdirAll(dir, artifactDirPerm); err != nil {
		return "", errors.NewFileError(errors.CodeDirectoryCreate, dir, err)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode scan summary: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, ArtifactName(summary))
	if err := os.WriteFile(path, data, artifactFilePerm); err != nil {
		return "", errors.NewFileError(errors.CodeFileWrite, path, err)
	}
	return path, nil
}

// ReadJSON loads a summary previously written by WriteJSON.
func ReadJSON(path string) (*scanning.ScanSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewFileError(errors.CodeFileRead, path, err)
	}

	var summary scanning.ScanSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, errors.NewFileError(errors.CodeFileRead, path, err)
	}
	return &summary, nil
}
