// Package zip bundles generated assets into a single downloadable
// archive, optionally with a manifest enumerating failed rows.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// Asset is one file placed into the archive.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ManifestEntry records a failed row for the archive manifest.
type ManifestEntry struct {
	RowIndex int
	Reason   string
}

// ManifestFilename is the name of the failure manifest inside archives.
const ManifestFilename = "failures.txt"

// Archive writes all assets into a zip archive. When entries is
// non-empty a manifest file listing every failed row is appended; the
// manifest is the only bulk view of per-row failure detail.
func Archive(assets []Asset, entries []ManifestEntry) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		w, err := zw.Create(asset.Filename)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", asset.Filename, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", asset.Filename, err)
		}
	}
	if len(entries) > 0 {
		w, err := zw.Create(ManifestFilename)
		if err != nil {
			return nil, fmt.Errorf("zip: create manifest: %w", err)
		}
		for _, entry := range entries {
			if _, err := fmt.Fprintf(w, "row %d: %s\n", entry.RowIndex, entry.Reason); err != nil {
				return nil, fmt.Errorf("zip: write manifest: %w", err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close archive: %w", err)
	}
	return buf.Bytes(), nil
}
