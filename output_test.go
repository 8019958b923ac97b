package json2ubl

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFileName(t *testing.T) {
	tests := []struct {
		input, id, root string
		want            string
	}{
		{"data/batch.json", "INV-1", "Invoice", "batch_INV-1_Invoice.xml"},
		{"/abs/in.put.json", "CN 7", "CreditNote", "in.put_CN_7_CreditNote.xml"},
		{"x.json", "a/b\\c", "Invoice", "x_a_b_c_Invoice.xml"},
		{"x.json", "///", "Invoice", "x_document_Invoice.xml"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputFileName(tt.input, tt.id, tt.root))
	}
}

func TestOutputWriterWritesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := NewOutputWriter(quietLogger())

	written, err := w.WriteAll(dir, []pendingFile{
		{Name: "a.xml", Data: []byte("<a/>")},
		{Name: "b.xml", Data: []byte("<b/>")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.xml"), filepath.Join(dir, "b.xml")}, written)

	data, err := os.ReadFile(written[1])
	require.NoError(t, err)
	assert.Equal(t, "<b/>", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "the writability check leaves nothing behind")
}

func TestOutputWriterRenamesCollidingFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewOutputWriter(quietLogger())

	written, err := w.WriteAll(dir, []pendingFile{
		{Name: "in_A_1_Invoice.xml", Data: []byte("<a/>")},
		{Name: "in_A_1_Invoice.xml", Data: []byte("<b/>")},
		{Name: "IN_A_1_Invoice.xml", Data: []byte("<c/>")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "in_A_1_Invoice.xml"),
		filepath.Join(dir, "in_A_1_Invoice_2.xml"),
		filepath.Join(dir, "IN_A_1_Invoice_3.xml"),
	}, written)

	for i, want := range []string{"<a/>", "<b/>", "<c/>"} {
		data, err := os.ReadFile(written[i])
		require.NoError(t, err)
		assert.Equal(t, want, string(data), "no file overwrites another")
	}
}

func TestOutputWriterRollsBack(t *testing.T) {
	dir := t.TempDir()
	w := NewOutputWriter(quietLogger())

	// A directory in the way of the second file makes its write fail
	require.NoError(t, os.Mkdir(filepath.Join(dir, "blocked.xml"), 0o755))

	_, err := w.WriteAll(dir, []pendingFile{
		{Name: "first.xml", Data: []byte("<a/>")},
		{Name: "blocked.xml", Data: []byte("<b/>")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFile)
	assert.NoFileExists(t, filepath.Join(dir, "first.xml"), "files written before the failure are removed")
}

func TestEnsureWritable(t *testing.T) {
	w := NewOutputWriter(quietLogger())

	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, w.EnsureWritable(dir))
	assert.DirExists(t, dir)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	err := w.EnsureWritable(filepath.Join(file, "sub"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFile)
}

func TestEnsureWritablePermission(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	err := NewOutputWriter(quietLogger()).EnsureWritable(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermission)
}
