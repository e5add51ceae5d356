package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/scrypster/membank/pkg/types"
)

// Info describes an archive file without reading its content.
type Info struct {
	Name string
	Path string
	Size int64
}

// List returns the archive files in dir, oldest name first. A missing
// directory has no archives.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.ClassifyIOError("archive: read directory", err)
	}

	var archives []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), FileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // Skip files we can't stat
		}
		archives = append(archives, Info{
			Name: entry.Name(),
			Path: filepath.Join(dir, entry.Name()),
			Size: info.Size(),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Name < archives[j].Name
	})
	return archives, nil
}

// Scan reads every archive in dir. Files that fail to parse are skipped and
// reported in the second return value.
func Scan(dir string) ([]*File, []error, error) {
	infos, err := List(dir)
	if err != nil {
		return nil, nil, err
	}

	var (
		files []*File
		bad   []error
	)
	for _, info := range infos {
		f, err := ReadFile(info.Path)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		files = append(files, f)
	}
	return files, bad, nil
}

// Remove deletes the named archives from dir. Missing files are ignored.
// It keeps going after a failure and reports the last error.
func Remove(dir string, names []string) (int, error) {
	removed := 0
	var lastErr error
	for _, name := range names {
		if name == "" || filepath.Base(name) != name {
			lastErr = fmt.Errorf("archive: refusing to remove %q", name)
			continue
		}
		err := os.Remove(filepath.Join(dir, name))
		switch {
		case err == nil:
			removed++
		case os.IsNotExist(err):
		default:
			lastErr = err
		}
	}

	if lastErr != nil {
		return removed, fmt.Errorf("archive: failed to delete some archives: %w", types.ClassifyIOError("remove", lastErr))
	}
	return removed, nil
}

// DiskUsage returns the total bytes used by archives in dir.
func DiskUsage(dir string) (int64, error) {
	archives, err := List(dir)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, a := range archives {
		total += a.Size
	}
	return total, nil
}
