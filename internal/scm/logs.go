package scm

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// MaxLogBytes bounds how much log text is kept from one archive.
const MaxLogBytes = 8 << 20

// MaxArchiveBytes bounds the size of a downloaded log archive.
const MaxArchiveBytes = 512 << 20

// minJobTail is the least text kept per job when an archive holds many jobs.
const minJobTail = 64 << 10

var zipMagic = []byte("PK\x03\x04")

// ErrArchiveTooLarge is returned for log downloads over MaxArchiveBytes.
var ErrArchiveTooLarge = errors.New("log archive too large")

// ReadLogArchive turns a workflow-run log download into plain text. GitHub
// serves a zip holding one file per job at the top level plus per-step copies
// in job directories; the top-level files are used when present. Each job
// keeps the tail of its log, where failures are reported. A body that is not
// a zip is returned as text, keeping its tail.
func ReadLogArchive(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "pipemedic-logs-*.zip")
	if err != nil {
		return "", fmt.Errorf("spooling log archive: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, io.LimitReader(r, MaxArchiveBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading log archive: %w", err)
	}
	if size > MaxArchiveBytes {
		return "", fmt.Errorf("%w: over %d bytes", ErrArchiveTooLarge, MaxArchiveBytes)
	}

	head := make([]byte, len(zipMagic))
	n, _ := tmp.ReadAt(head, 0)
	if !bytes.Equal(head[:n], zipMagic) {
		return readPlain(tmp, size)
	}

	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return "", fmt.Errorf("opening log archive: %w", err)
	}
	files := jobLogs(zr)
	if len(files) == 0 {
		return "", nil
	}

	perJob := MaxLogBytes / len(files)
	if perJob < minJobTail {
		perJob = minJobTail
	}
	var b strings.Builder
	for _, f := range files {
		if err := appendEntry(&b, f, perJob); err != nil {
			return "", err
		}
	}
	return keepTail(b.String(), MaxLogBytes), nil
}

func readPlain(f *os.File, size int64) (string, error) {
	off := size - MaxLogBytes
	if off < 0 {
		off = 0
	}
	data, err := io.ReadAll(io.NewSectionReader(f, off, size-off))
	if err != nil {
		return "", fmt.Errorf("reading log text: %w", err)
	}
	return string(data), nil
}

func jobLogs(zr *zip.Reader) []*zip.File {
	var top, nested []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.Contains(f.Name, "/") {
			nested = append(nested, f)
		} else {
			top = append(top, f)
		}
	}
	files := top
	if len(files) == 0 {
		files = nested
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files
}

func appendEntry(b *strings.Builder, f *zip.File, limit int) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	tail := &tailBuffer{limit: limit}
	if _, err := io.Copy(tail, rc); err != nil {
		return fmt.Errorf("reading %s: %w", f.Name, err)
	}
	fmt.Fprintf(b, "==> %s <==\n", f.Name)
	b.Write(tail.Bytes())
	b.WriteString("\n")
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > 2*t.limit {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.limit:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) Bytes() []byte {
	if len(t.buf) > t.limit {
		return t.buf[len(t.buf)-t.limit:]
	}
	return t.buf
}

func keepTail(s string, n int) string {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
