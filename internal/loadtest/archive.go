package loadtest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const archiveExt = ".zst"

// ArchiveName returns the archive file name for a scenario's raw output.
func ArchiveName(scenarioID string) string {
	return scenarioID + ".ndjson" + archiveExt
}

// archiveResultFile compresses src into dir/name with zstd.
func archiveResultFile(src, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open raw results: %w", err)
	}
	defer func() { _ = in.Close() }()

	dst := filepath.Join(dir, name)
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = out.Close()
		return "", fmt.Errorf("create zstd encoder: %w", err)
	}

	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		_ = out.Close()
		return "", fmt.Errorf("compress raw results: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("flush archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	return dst, nil
}

// archiveReader adapts a zstd decoder to io.ReadCloser semantics without an
// error-returning Close.
type archiveReader struct {
	*zstd.Decoder
}

func newArchiveReader(r io.Reader) (*archiveReader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &archiveReader{Decoder: dec}, nil
}
