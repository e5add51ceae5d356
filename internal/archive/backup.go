package archive

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/scrypster/membank/internal/fsutil"
)

// BackupSuffix is appended to a notes file path to form its crash-recovery copy.
const BackupSuffix = ".backup"

// BackupPath returns the recovery copy path for a notes file.
func BackupPath(path string) string {
	return path + BackupSuffix
}

// restoreFile atomically puts the backup content back at path.
func restoreFile(backupPath, path string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	perm := os.FileMode(0o644)
	if info, err := os.Stat(backupPath); err == nil {
		perm = info.Mode().Perm()
	}
	return fsutil.WriteAtomic(path, data, perm)
}

// setAsideStaleBackup moves a leftover backup out of the way so a new
// transaction can take its place. A backup identical to the current notes
// file is simply dropped; any other is kept under a timestamped name.
func setAsideStaleBackup(path string) (string, error) {
	backup := BackupPath(path)
	old, err := os.ReadFile(backup)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(old, current) {
		return "", os.Remove(backup)
	}
	stale := fmt.Sprintf("%s.%d", backup, time.Now().UnixNano())
	if err := os.Rename(backup, stale); err != nil {
		return "", err
	}
	return stale, nil
}

// StaleBackups lists the backups set aside for path by earlier
// transactions, oldest first.
func StaleBackups(path string) ([]string, error) {
	matches, err := filepath.Glob(globEscape(BackupPath(path)) + ".*")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		suffix := strings.TrimPrefix(m, BackupPath(path)+".")
		if _, err := strconv.ParseInt(suffix, 10, 64); err == nil {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`)
	return r.Replace(s)
}
