package matrix

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic writes a file through a temporary sibling and renames it into
// place, so readers see either the old content or the complete new content.
func WriteAtomic(path string, write func(io.Writer) error) error {
	tmp, err := stage(path, write)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s into place: %w", filepath.Base(path), err)
	}
	syncDir(filepath.Dir(path))
	return nil
}

// stage writes a temporary file next to path and returns its name. The
// caller renames or removes it.
func stage(path string, write func(io.Writer) error) (string, error) {
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temporary file for %s: %w", filepath.Base(path), err)
	}
	tmp := file.Name()

	// Write, flush, sync, close. Any failure removes the temporary file.
	buffered := bufio.NewWriter(file)
	if err := write(buffered); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := buffered.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("syncing %s: %w", filepath.Base(path), err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	return tmp, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err == nil {
		d.Sync()
		d.Close()
	}
}
