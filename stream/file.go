package stream

import (
	"fmt"
	"iter"
	"os"
)

const temporaryFileSuffix = ".tmp" // suffix for temp download

// ToFile writes every chunk of seq to outputPath through a temporary file
// that is renamed once the sequence ends cleanly. It returns the bytes
// written. An empty stream is an error and leaves no file behind.
func ToFile(seq iter.Seq2[[]byte, error], outputPath string) (int64, error) {
	tmpPath := outputPath + temporaryFileSuffix
	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}

	var written int64
	for chunk, err := range seq {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmpPath)
			return written, err
		}
		n, werr := out.Write(chunk)
		written += int64(n)
		if werr != nil {
			_ = out.Close()
			_ = os.Remove(tmpPath)
			return written, fmt.Errorf("failed to write chunk: %w", werr)
		}
	}
	if err := out.Close(); err != nil {
		return written, err
	}
	if written == 0 {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("empty download: 0 bytes written")
	}
	return written, os.Rename(tmpPath, outputPath)
}
