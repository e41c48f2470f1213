// Package testrepo writes minimal git directories for tests: loose commit
// objects, branch ref files and packed-refs, without needing a git binary.
package testrepo

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// EmptyTree is the well-known identifier of the empty tree object.
const EmptyTree = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// Repo is a scratch repository rooted at Dir, with metadata in GitDir.
type Repo struct {
	t      testing.TB
	Dir    string
	GitDir string

	seq int
}

// New lays out an empty repository in a temporary directory.
func New(t testing.TB) *Repo {
	t.Helper()

	dir := t.TempDir()
	gitDir := filepath.Join(dir, ".git")
	for _, sub := range []string{"objects", "refs/heads", "refs/tags"} {
		if err := os.MkdirAll(filepath.Join(gitDir, sub), 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", sub, err)
		}
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatalf("failed to write HEAD: %v", err)
	}

	return &Repo{t: t, Dir: dir, GitDir: gitDir}
}

// Commit stores a commit with the given parents and returns its identifier.
// Each call produces a distinct commit.
func (r *Repo) Commit(parents ...string) string {
	r.t.Helper()
	r.seq++

	var body strings.Builder
	fmt.Fprintf(&body, "tree %s\n", EmptyTree)
	for _, p := range parents {
		fmt.Fprintf(&body, "parent %s\n", p)
	}
	fmt.Fprintf(&body, "author Test Author <author@example.com> %d +0000\n", 1700000000+r.seq)
	fmt.Fprintf(&body, "committer Test Author <author@example.com> %d +0000\n", 1700000000+r.seq)
	fmt.Fprintf(&body, "\ncommit %d\n", r.seq)

	return r.Object("commit", []byte(body.String()))
}

// Object stores a loose object of any type and returns its identifier.
func (r *Repo) Object(typ string, body []byte) string {
	r.t.Helper()

	raw := append([]byte(fmt.Sprintf("%s %d\x00", typ, len(body))), body...)
	sum := sha1.Sum(raw)
	id := hex.EncodeToString(sum[:])

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		r.t.Fatalf("failed to compress object: %v", err)
	}
	if err := zw.Close(); err != nil {
		r.t.Fatalf("failed to compress object: %v", err)
	}

	r.WriteRaw(id, buf.Bytes())
	return id
}

// WriteRaw places data verbatim at the loose object path for id.
func (r *Repo) WriteRaw(id string, data []byte) {
	r.t.Helper()

	path := filepath.Join(r.GitDir, "objects", id[:2], id[2:])
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.t.Fatalf("failed to create object directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0o444); err != nil {
		r.t.Fatalf("failed to write object %s: %v", id, err)
	}
}

// Branch writes refs/heads/<name> pointing at id. Nested names create
// intermediate directories.
func (r *Repo) Branch(name, id string) {
	r.t.Helper()

	path := filepath.Join(r.GitDir, "refs", "heads", filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.t.Fatalf("failed to create ref directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		r.t.Fatalf("failed to write ref %s: %v", name, err)
	}
}

// PackedRefs writes a packed-refs file holding the given branches.
func (r *Repo) PackedRefs(branches map[string]string) {
	r.t.Helper()

	var b strings.Builder
	b.WriteString("# pack-refs with: peeled fully-peeled sorted \n")
	for name, id := range branches {
		fmt.Fprintf(&b, "%s refs/heads/%s\n", id, name)
	}
	if err := os.WriteFile(filepath.Join(r.GitDir, "packed-refs"), []byte(b.String()), 0o644); err != nil {
		r.t.Fatalf("failed to write packed-refs: %v", err)
	}
}

// MissingID returns a well-formed identifier with no backing object.
func MissingID() string {
	return strings.Repeat("f", 40)
}
