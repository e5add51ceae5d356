// Package archive performs the archive-and-rotate transaction and manages
// archive files on disk.
//
// An archive file is plain text: a short metadata header terminated by a
// "---" line, followed by a verbatim copy of the pre-rotation notes.
package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/scrypster/membank/pkg/types"
)

const (
	// FileSuffix is the suffix shared by all archive files.
	FileSuffix = "-notes.md"

	// timestampLayout names archives YYYYMMDD-HHMMSS.
	timestampLayout = "20060102-150405"

	headerTitle     = "# Archived Notes"
	headerSeparator = "---"

	// maxNameAttempts bounds the collision suffix search.
	maxNameAttempts = 1000
)

// Header is the metadata block at the top of an archive file.
type Header struct {
	ArchiveDate   time.Time
	Agent         string
	OriginalLines int
	OriginalBytes int64
	Reason        string
}

// File is an archive file read back from disk.
type File struct {
	Name    string
	Path    string
	Header  Header
	Body    []byte
	Size    int64
	ModTime time.Time
}

// FileName returns the base archive name for a timestamp. attempt > 0 adds
// a numeric suffix used when the base name is already taken.
func FileName(at time.Time, attempt int) string {
	stamp := at.UTC().Format(timestampLayout)
	if attempt == 0 {
		return stamp + FileSuffix
	}
	return fmt.Sprintf("%s-%d%s", stamp, attempt, FileSuffix)
}

// WriteFile creates a new archive in dir holding content. It never
// overwrites an existing archive: on a name collision the next numeric
// suffix is tried. It returns the chosen file name.
func WriteFile(dir string, hdr Header, content []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", types.ClassifyIOError("archive: create directory", err)
	}

	var (
		f    *os.File
		name string
	)
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name = FileName(hdr.ArchiveDate, attempt)
		var err error
		f, err = os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", types.ClassifyIOError("archive: create "+name, err)
		}
		f = nil
	}
	if f == nil {
		return "", fmt.Errorf("archive: no free file name for %s after %d attempts", hdr.ArchiveDate.UTC().Format(timestampLayout), maxNameAttempts)
	}

	path := f.Name()
	w := bufio.NewWriter(f)
	_, _ = w.WriteString(formatHeader(hdr))
	_, _ = w.Write(content)

	err := w.Flush()
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", types.ClassifyIOError("archive: write "+name, err)
	}
	return name, nil
}

func formatHeader(hdr Header) string {
	var b strings.Builder
	b.WriteString(headerTitle + "\n")
	fmt.Fprintf(&b, "Archive Date: %s\n", hdr.ArchiveDate.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Agent: %s\n", hdr.Agent)
	fmt.Fprintf(&b, "Original Size: %d lines (%d bytes)\n", hdr.OriginalLines, hdr.OriginalBytes)
	fmt.Fprintf(&b, "Rotation Reason: %s\n", hdr.Reason)
	b.WriteString(headerSeparator + "\n")
	return b.String()
}

// ReadFile reads and parses the archive at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.ClassifyIOError("archive: read", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, types.ClassifyIOError("archive: stat", err)
	}

	hdr, body, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("archive: %s: %w", filepath.Base(path), err)
	}
	return &File{
		Name:    filepath.Base(path),
		Path:    path,
		Header:  hdr,
		Body:    body,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Parse splits archive data into its header and the verbatim body.
// Unknown header keys are ignored.
func Parse(data []byte) (Header, []byte, error) {
	var hdr Header

	rest := data
	first := true
	for {
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			return hdr, nil, errors.New("missing header separator")
		}
		line := strings.TrimRight(string(rest[:nl]), "\r")
		rest = rest[nl+1:]

		if first {
			if line != headerTitle {
				return hdr, nil, fmt.Errorf("unexpected first line %q", line)
			}
			first = false
			continue
		}
		if line == headerSeparator {
			return hdr, rest, nil
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Archive Date":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				hdr.ArchiveDate = t
			}
		case "Agent":
			hdr.Agent = value
		case "Original Size":
			hdr.OriginalLines, hdr.OriginalBytes = parseSize(value)
		case "Rotation Reason":
			hdr.Reason = value
		}
	}
}

// parseSize reads "N lines (M bytes)".
func parseSize(value string) (int, int64) {
	fields := strings.Fields(strings.NewReplacer("(", " ", ")", " ").Replace(value))
	var lines int
	var size int64
	if len(fields) > 0 {
		lines, _ = strconv.Atoi(fields[0])
	}
	if len(fields) > 2 {
		size, _ = strconv.ParseInt(fields[2], 10, 64)
	}
	return lines, size
}
