package results

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/ieee0824/otcalign"
)

// ErrLocked is returned when another process is writing the same file.
var ErrLocked = errors.New("alignment file is locked by another process")

// WriteFile writes one "<cut_id> <text>" line per aligned result, in order.
// Failed results are skipped. The file is written to a temporary name and
// renamed into place while holding <path>.lock.
func WriteFile(path string, res []otcalign.Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrLocked)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := bufio.NewWriter(tmp)
	for i := range res {
		r := &res[i]
		if r.Err != nil {
			continue
		}
		if strings.ContainsAny(r.ID, " \t\n") {
			_ = tmp.Close()
			return fmt.Errorf("cut id %q contains whitespace", r.ID)
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", r.ID, r.Text); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write %s: %w", r.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
