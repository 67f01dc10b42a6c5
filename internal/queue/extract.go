package queue

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"

	"github.com/xxxsen/romget/internal/pathguard"
)

// ErrUnsupportedArchive is returned by the built-in extractor for archives
// that are neither zip nor 7z.
var ErrUnsupportedArchive = errors.New("unsupported archive format")

var (
	zipSignature      = []byte("PK\x03\x04")
	sevenZipSignature = []byte("7z\xBC\xAF\x27\x1C")
	rarSignature      = []byte("Rar!\x1A\x07")

	archiveSignatures = [][]byte{zipSignature, sevenZipSignature, rarSignature}
)

// Extractor unpacks an archive into a directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath, dstDir string) error
}

// NewExtractor returns the extractor selected by opts.
func NewExtractor(opts ArchiveOptions) Extractor {
	if opts.Use7z {
		return &sevenZipExtractor{bin: opts.PathTo7z}
	}
	return &builtinExtractor{}
}

// IsArchive reports whether path holds an archive, judged by its signature.
// Disc images are never treated as archives.
func IsArchive(path string) (bool, error) {
	if strings.EqualFold(filepath.Ext(path), ".iso") {
		return false, nil
	}
	head, err := readHead(path)
	if err != nil {
		return false, err
	}
	for _, sig := range archiveSignatures {
		if bytes.HasPrefix(head, sig) {
			return true, nil
		}
	}
	return false, nil
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return head[:n], nil
}

// builtinExtractor unpacks zip and 7z archives in process.
type builtinExtractor struct{}

func (e *builtinExtractor) Extract(ctx context.Context, archivePath, dstDir string) error {
	head, err := readHead(archivePath)
	if err != nil {
		return err
	}
	switch {
	case bytes.HasPrefix(head, zipSignature):
		return extractZip(ctx, archivePath, dstDir)
	case bytes.HasPrefix(head, sevenZipSignature):
		return extract7z(ctx, archivePath, dstDir)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArchive, archivePath)
	}
}

func extractZip(ctx context.Context, archivePath, dstDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		if errors.Is(err, zip.ErrInsecurePath) {
			zr.Close()
			return fmt.Errorf("archive %s: %w", archivePath, pathguard.ErrUnsafePath)
		}
		return fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeEntry(f.Name, f.FileInfo().IsDir(), f.Open, dstDir); err != nil {
			return err
		}
	}
	return nil
}

func extract7z(ctx context.Context, archivePath, dstDir string) error {
	sr, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer sr.Close()

	for _, f := range sr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeEntry(f.Name, f.FileInfo().IsDir(), f.Open, dstDir); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(entryName string, isDir bool, open func() (io.ReadCloser, error), dstDir string) error {
	if err := pathguard.AssertSafe(entryName); err != nil {
		return fmt.Errorf("archive entry: %w", err)
	}
	dest := filepath.Join(dstDir, filepath.FromSlash(entryName))
	if err := pathguard.AssertWithin(dstDir, dest); err != nil {
		return fmt.Errorf("archive entry: %w", err)
	}
	if isDir {
		return os.MkdirAll(dest, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", dest, err)
	}
	rc, err := open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", entryName, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return out.Close()
}

type sevenZipExtractor struct {
	bin string
}

func (e *sevenZipExtractor) Extract(ctx context.Context, archivePath, dstDir string) error {
	cmd := exec.CommandContext(ctx, e.bin, "x", "-y", "-o"+dstDir, archivePath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("7z extract %s: %w: %s", archivePath, err, strings.TrimSpace(string(out)))
	}
	return nil
}
