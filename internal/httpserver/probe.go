package httpserver

import (
	"context"
	"fmt"
	"os"

	"github.com/cityworks/roadimport/internal/domain"
	"github.com/cityworks/roadimport/internal/georeader"
)

// probeBytes materializes an upload to a temp file (the GeoPackage reader
// needs a real SQLite file on disk) and probes it for layers, bbox and
// feature count.
func probeBytes(ctx context.Context, fileType domain.FileType, data []byte) (domain.ProbeResult, error) {
	path, cleanup, err := materialize(fileType, data)
	if err != nil {
		return domain.ProbeResult{}, err
	}
	defer cleanup()

	reader, err := georeader.Open(fileType, path)
	if err != nil {
		return domain.ProbeResult{}, err
	}
	defer reader.Close()

	return reader.Probe(ctx)
}

func materialize(fileType domain.FileType, data []byte) (string, func(), error) {
	ext := ".geojson"
	if fileType == domain.FileTypeGeoPackage {
		ext = ".gpkg"
	}

	tmp, err := os.CreateTemp("", "roadimport-upload-*"+ext)
	if err != nil {
		return "", nil, fmt.Errorf("httpserver: creating temp file: %w", err)
	}
	path := tmp.Name()
	cleanup := func() { os.Remove(path) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()

		return "", nil, fmt.Errorf("httpserver: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()

		return "", nil, fmt.Errorf("httpserver: closing temp file: %w", err)
	}

	return path, cleanup, nil
}
