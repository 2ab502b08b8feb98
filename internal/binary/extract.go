package binary

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// maxBinarySize caps how much we will extract for a single binary.
const maxBinarySize = 512 << 20

// Extractor handles archive extraction
type Extractor struct{}

// NewExtractor creates a new extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractBinary extracts the regular file named binaryName (matched on
// basename, at any depth) from a .tar.gz archive to destPath with mode 0755.
func (e *Extractor) ExtractBinary(archivePath, destPath, binaryName string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return fmt.Errorf("%w: %s", ErrBinaryNotFound, binaryName)
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != binaryName {
			continue
		}
		if header.Size > maxBinarySize {
			return fmt.Errorf("binary %s is too large (%d bytes)", binaryName, header.Size)
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return fmt.Errorf("create dest dir: %w", err)
		}

		outFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
		if err != nil {
			return fmt.Errorf("create file: %w", err)
		}

		if _, err := io.Copy(outFile, io.LimitReader(tarReader, maxBinarySize)); err != nil {
			outFile.Close()
			os.Remove(destPath)
			return fmt.Errorf("write file: %w", err)
		}

		if err := outFile.Close(); err != nil {
			return fmt.Errorf("close file: %w", err)
		}
		return nil
	}
}

// SetExecutable sets executable permissions on a file
func SetExecutable(path string) error {
	if err := os.Chmod(path, 0755); err != nil {
		return fmt.Errorf("set executable: %w", err)
	}
	return nil
}
