package gitcore

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// ReadParents returns the parent identifiers of the commit id in the order
// they appear in the record. A root commit yields an empty slice.
func (r *Repository) ReadParents(id Hash) ([]Hash, error) {
	commit, err := r.ReadCommit(id)
	if err != nil {
		return nil, err
	}
	return commit.Parents, nil
}

// ReadCommit locates, inflates and parses the commit record named by id.
func (r *Repository) ReadCommit(id Hash) (*Commit, error) {
	if !id.IsValid() {
		return nil, corrupt(id, "malformed identifier")
	}

	objType, body, err := r.readObject(id)
	if err != nil {
		return nil, err
	}
	if objType != CommitObject {
		return nil, corrupt(id, "expected commit, found %s", objType)
	}

	return parseCommitBody(body, id)
}

// readObject returns the type and payload of id from the loose store, falling
// back to the pack files.
func (r *Repository) readObject(id Hash) (ObjectType, []byte, error) {
	objType, body, err := r.readLooseObject(id)
	if err == nil {
		return objType, body, nil
	}
	if !errors.Is(err, ErrObjectNotFound) {
		return NoneObject, nil, err
	}
	return r.readPackedObject(id)
}

// readLooseObject reads objects/xx/yyyy..., where xx is the first two hex
// digits of id.
func (r *Repository) readLooseObject(id Hash) (ObjectType, []byte, error) {
	objectPath := filepath.Join(r.gitDir, "objects", string(id[:2]), string(id[2:]))

	file, err := os.Open(objectPath)
	if errors.Is(err, fs.ErrNotExist) {
		return NoneObject, nil, notFound(id)
	} else if err != nil {
		return NoneObject, nil, corrupt(id, "%v", err)
	}
	defer file.Close()

	zr, err := zlib.NewReader(file)
	if err != nil {
		return NoneObject, nil, corrupt(id, "inflate: %v", err)
	}
	defer zr.Close()

	content, err := io.ReadAll(zr)
	if err != nil {
		return NoneObject, nil, corrupt(id, "inflate: %v", err)
	}

	nullIdx := bytes.IndexByte(content, 0)
	if nullIdx == -1 {
		return NoneObject, nil, corrupt(id, "missing object header")
	}

	typeName, sizeStr, ok := strings.Cut(string(content[:nullIdx]), " ")
	if !ok {
		return NoneObject, nil, corrupt(id, "invalid object header %q", content[:nullIdx])
	}
	objType := StrToObjectType(typeName)
	if objType == NoneObject {
		return NoneObject, nil, corrupt(id, "unknown object type %q", typeName)
	}

	body := content[nullIdx+1:]
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size != len(body) {
		return NoneObject, nil, corrupt(id, "size mismatch: header %q, payload %d", sizeStr, len(body))
	}

	return objType, body, nil
}

// parseCommitBody parses the header lines of a commit payload up to the blank
// line, then keeps the rest as the message. Continuation lines (leading
// space, as in gpgsig) belong to the preceding header and are skipped. Only
// the tree and parent headers must be well formed.
func parseCommitBody(body []byte, id Hash) (*Commit, error) {
	header, message, _ := strings.Cut(string(body), "\n\n")

	commit := &Commit{
		ID:      id,
		Message: strings.TrimSpace(message),
	}

	for i, line := range strings.Split(header, "\n") {
		if line == "" {
			continue
		}
		if line[0] == ' ' {
			if i == 0 {
				return nil, corrupt(id, "continuation line without header")
			}
			continue
		}

		key, value, ok := strings.Cut(line, " ")
		if !ok || key == "" {
			return nil, corrupt(id, "malformed header line %q", line)
		}

		switch key {
		case "tree":
			tree, err := NewHash(value)
			if err != nil {
				return nil, corrupt(id, "tree: %v", err)
			}
			commit.Tree = tree
		case "parent":
			parent, err := NewHash(value)
			if err != nil {
				return nil, corrupt(id, "parent: %v", err)
			}
			commit.Parents = append(commit.Parents, parent)
		case "author":
			commit.Author = lenientSignature(value)
		case "committer":
			commit.Committer = lenientSignature(value)
		}
	}

	if commit.Tree == "" {
		return nil, corrupt(id, "missing tree header")
	}

	return commit, nil
}

// lenientSignature parses value, keeping the raw text as the name when it is
// not a well-formed signature. Old importers wrote odd trailers.
func lenientSignature(value string) Signature {
	sig, err := NewSignature(value)
	if err != nil {
		return Signature{Name: strings.TrimSpace(value)}
	}
	return sig
}
