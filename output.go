package json2ubl

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/moby/sys/atomicwriter"
)

// OutputWriter writes XML files into output directories. Directory
// writability is checked once per directory and remembered.
type OutputWriter struct {
	mu       sync.Mutex
	writable map[string]error
	logger   *slog.Logger
}

// NewOutputWriter creates an output writer
func NewOutputWriter(logger *slog.Logger) *OutputWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutputWriter{writable: make(map[string]error), logger: logger}
}

// EnsureWritable creates dir if needed and checks that files can be
// created in it
func (o *OutputWriter) EnsureWritable(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = filepath.Clean(dir)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err, ok := o.writable[abs]; ok {
		return err
	}
	err = checkWritable(abs)
	o.writable[abs] = err
	return err
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return permissionError(dir, "failed to create output directory", err)
	}
	tmp, err := os.CreateTemp(dir, ".json2ubl-check-*")
	if err != nil {
		return permissionError(dir, "output directory is not writable", err)
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(name)
	return nil
}

func permissionError(path, msg string, err error) error {
	code := CodeFile
	if errors.Is(err, fs.ErrPermission) {
		code = CodePermission
	}
	return NewError(code, msg, err).WithDetail("path", path)
}

// pendingFile is one XML document waiting to be written
type pendingFile struct {
	Name string
	Data []byte
}

// WriteAll writes files into dir atomically. If any write fails, every
// file written by this call is removed again.
func (o *OutputWriter) WriteAll(dir string, files []pendingFile) ([]string, error) {
	if err := o.EnsureWritable(dir); err != nil {
		return nil, err
	}

	written := make([]string, 0, len(files))
	used := make(map[string]bool, len(files))
	for _, f := range files {
		name := uniqueFileName(f.Name, used)
		if name != f.Name {
			o.logger.Warn("output file name already used in this batch, renaming", "file", f.Name, "renamed", name)
		}
		path := filepath.Join(dir, name)
		if err := atomicwriter.WriteFile(path, f.Data, 0o644); err != nil {
			o.rollback(written)
			return nil, permissionError(path, "failed to write output file", err)
		}
		written = append(written, path)
	}
	return written, nil
}

func (o *OutputWriter) rollback(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			o.logger.Warn("failed to remove file during rollback", "path", path, "error", err)
		}
	}
	if len(paths) > 0 {
		o.logger.Warn("rolled back output files", "count", len(paths))
	}
}

// uniqueFileName returns name, or name with a _2, _3... suffix before its
// extension when an earlier file of the batch took it. Names compare
// case-insensitively.
func uniqueFileName(name string, used map[string]bool) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// OutputFileName names the XML file for one document:
// {input stem}_{document id}_{root tag}.xml
func OutputFileName(inputPath, docID, rootTag string) string {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	id := strings.Trim(unsafeFileChars.ReplaceAllString(docID, "_"), "_")
	if id == "" {
		id = "document"
	}
	return fmt.Sprintf("%s_%s_%s.xml", stem, id, rootTag)
}
