package utils

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "data", "out.json")

	test.That(t, WriteFileAtomic(path, []byte(`{"a":1}`)), test.ShouldBeNil)
	got, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(got), test.ShouldEqual, `{"a":1}`)

	test.That(t, WriteFileAtomic(path, []byte(`{"a":2}`)), test.ShouldBeNil)
	got, err = os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(got), test.ShouldEqual, `{"a":2}`)

	entries, err := os.ReadDir(filepath.Dir(path))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(entries), test.ShouldEqual, 1)
}

func TestWriteFileAtomicBadDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	test.That(t, os.WriteFile(blocker, nil, 0o600), test.ShouldBeNil)
	err := WriteFileAtomic(filepath.Join(blocker, "out.json"), []byte("x"))
	test.That(t, err, test.ShouldNotBeNil)
}
