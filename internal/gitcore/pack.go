package gitcore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zlib"
)

const (
	packOfsDelta = 6
	packRefDelta = 7

	// maxDeltaDepth bounds delta chains; git itself stops at 50 by default.
	maxDeltaDepth = 64
)

var packIndexMagic = []byte{0xff, 't', 'O', 'c'}

// packIndex maps object hashes to their offsets within one pack file.
type packIndex struct {
	idxPath  string
	packPath string
	version  uint32
	offsets  map[Hash]int64
}

// errPackGone marks a pack file that disappeared after its index was loaded,
// as happens when git gc or git repack replaces it.
var errPackGone = errors.New("pack file removed")

// loadPackIndices scans the objects/pack directory and loads all pack index files.
func (r *Repository) loadPackIndices() error {
	packs, _, err := r.scanPackIndices(nil)
	if err != nil {
		return err
	}
	r.packs = packs
	return nil
}

// reloadPackIndices rescans objects/pack and reports whether the set of
// indices changed. Indices already loaded are reused.
func (r *Repository) reloadPackIndices() (bool, error) {
	r.packsMu.Lock()
	defer r.packsMu.Unlock()

	packs, changed, err := r.scanPackIndices(r.packs)
	if err != nil {
		return false, fmt.Errorf("failed to reload pack indices: %w", err)
	}
	if changed {
		r.logger.Debug("pack indices changed", "before", len(r.packs), "after", len(packs))
		r.packs = packs
	}
	return changed, nil
}

func (r *Repository) scanPackIndices(known []*packIndex) ([]*packIndex, bool, error) {
	byPath := make(map[string]*packIndex, len(known))
	for _, idx := range known {
		byPath[idx.idxPath] = idx
	}

	packDir := filepath.Join(r.gitDir, "objects", "pack")
	entries, err := os.ReadDir(packDir)
	if os.IsNotExist(err) {
		// No packs yet, this is ok.
		return nil, len(known) > 0, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to read pack directory: %w", err)
	}

	var packs []*packIndex
	changed := false
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".idx") {
			continue
		}

		idxPath := filepath.Join(packDir, entry.Name())
		if idx, ok := byPath[idxPath]; ok {
			packs = append(packs, idx)
			continue
		}

		idx, err := loadPackIndex(idxPath)
		if err != nil {
			return nil, false, fmt.Errorf("%w: pack index %s: %v", ErrObjectCorrupt, entry.Name(), err)
		}
		r.logger.Debug("loaded pack index", "file", entry.Name(), "version", idx.version, "objects", len(idx.offsets))
		packs = append(packs, idx)
		changed = true
	}

	if len(packs) != len(known) {
		changed = true
	}
	return packs, changed, nil
}

// loadPackIndex parses a pack index file, detecting its version automatically.
func loadPackIndex(idxPath string) (*packIndex, error) {
	data, err := os.ReadFile(idxPath)
	if err != nil {
		return nil, err
	}

	idx := &packIndex{
		idxPath:  idxPath,
		packPath: strings.TrimSuffix(idxPath, ".idx") + ".pack",
		offsets:  make(map[Hash]int64),
	}

	if bytes.HasPrefix(data, packIndexMagic) {
		idx.version = 2
		err = idx.parseV2(data)
	} else {
		idx.version = 1
		err = idx.parseV1(data)
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// parseV2 reads: magic, version, 256 fanout entries, N names, N CRCs,
// N 31-bit offsets, then 64-bit offsets for entries with the MSB set.
func (p *packIndex) parseV2(data []byte) error {
	const fanoutAt = 8
	if len(data) < fanoutAt+256*4 {
		return errors.New("truncated index header")
	}
	if v := binary.BigEndian.Uint32(data[4:8]); v != 2 {
		return fmt.Errorf("expected version 2, got %d", v)
	}

	n := int(binary.BigEndian.Uint32(data[fanoutAt+255*4:]))
	namesAt := fanoutAt + 256*4
	offsetsAt := namesAt + n*20 + n*4
	largeAt := offsetsAt + n*4
	if len(data) < largeAt {
		return errors.New("truncated index tables")
	}

	for i := 0; i < n; i++ {
		var name [20]byte
		copy(name[:], data[namesAt+i*20:])
		hash, err := NewHashFromBytes(name)
		if err != nil {
			return err
		}

		offset := binary.BigEndian.Uint32(data[offsetsAt+i*4:])
		if offset&0x80000000 == 0 {
			p.offsets[hash] = int64(offset)
			continue
		}

		at := largeAt + int(offset&0x7fffffff)*8
		if at+8 > len(data) {
			return fmt.Errorf("large offset out of range for %s", hash.Short())
		}
		p.offsets[hash] = int64(binary.BigEndian.Uint64(data[at:]))
	}

	return nil
}

// parseV1 reads: 256 fanout entries, then N (offset, name) pairs.
func (p *packIndex) parseV1(data []byte) error {
	const entriesAt = 256 * 4
	if len(data) < entriesAt {
		return errors.New("truncated index header")
	}

	n := int(binary.BigEndian.Uint32(data[255*4:]))
	if len(data) < entriesAt+n*24 {
		return errors.New("truncated index tables")
	}

	for i := 0; i < n; i++ {
		entry := data[entriesAt+i*24:]
		var name [20]byte
		copy(name[:], entry[4:24])
		hash, err := NewHashFromBytes(name)
		if err != nil {
			return err
		}
		p.offsets[hash] = int64(binary.BigEndian.Uint32(entry[:4]))
	}

	return nil
}

// readPackedObject resolves id through the loaded pack indices.
func (r *Repository) readPackedObject(id Hash) (ObjectType, []byte, error) {
	return r.readPackedObjectDepth(id, 0)
}

func (r *Repository) readPackedObjectDepth(id Hash, depth int) (ObjectType, []byte, error) {
	objType, data, err := r.readFromPacks(id, depth)
	if !errors.Is(err, ErrObjectNotFound) && !errors.Is(err, errPackGone) {
		return objType, data, err
	}

	// The object may have moved into a pack written after the indices were
	// loaded.
	changed, reloadErr := r.reloadPackIndices()
	if reloadErr != nil {
		return NoneObject, nil, reloadErr
	}
	if !changed {
		return NoneObject, nil, notFound(id)
	}
	objType, data, err = r.readFromPacks(id, depth)
	if errors.Is(err, errPackGone) {
		return NoneObject, nil, notFound(id)
	}
	return objType, data, err
}

// readFromPacks looks id up in the currently loaded indices only.
func (r *Repository) readFromPacks(id Hash, depth int) (ObjectType, []byte, error) {
	r.packsMu.RLock()
	packs := r.packs
	r.packsMu.RUnlock()

	for _, idx := range packs {
		offset, ok := idx.offsets[id]
		if !ok {
			continue
		}

		file, err := os.Open(idx.packPath)
		if errors.Is(err, fs.ErrNotExist) {
			return NoneObject, nil, errPackGone
		} else if err != nil {
			return NoneObject, nil, corrupt(id, "open pack: %v", err)
		}
		defer file.Close()

		objType, data, err := r.readPackObjectAt(file, offset, depth)
		if err != nil {
			return NoneObject, nil, corrupt(id, "%v", err)
		}
		return objType, data, nil
	}

	return NoneObject, nil, notFound(id)
}

// readPackObjectAt reads and fully resolves the object whose entry starts at
// offset, following delta bases as needed.
func (r *Repository) readPackObjectAt(file *os.File, offset int64, depth int) (ObjectType, []byte, error) {
	if depth > maxDeltaDepth {
		return NoneObject, nil, errors.New("delta chain too deep")
	}

	br := bufio.NewReader(io.NewSectionReader(file, offset, 1<<62))
	typ, size, err := readPackObjectHeader(br)
	if err != nil {
		return NoneObject, nil, fmt.Errorf("entry header at %d: %w", offset, err)
	}

	switch typ {
	case byte(CommitObject), byte(TreeObject), byte(BlobObject), byte(TagObject):
		data, err := inflate(br, size)
		return ObjectType(typ), data, err

	case packOfsDelta:
		distance, err := readOfsDistance(br)
		if err != nil {
			return NoneObject, nil, err
		}
		if distance <= 0 || distance > offset {
			return NoneObject, nil, fmt.Errorf("delta base offset out of range at %d", offset)
		}
		delta, err := inflate(br, size)
		if err != nil {
			return NoneObject, nil, fmt.Errorf("delta data: %w", err)
		}
		baseType, base, err := r.readPackObjectAt(file, offset-distance, depth+1)
		if err != nil {
			return NoneObject, nil, fmt.Errorf("delta base at %d: %w", offset-distance, err)
		}
		result, err := applyDelta(base, delta)
		return baseType, result, err

	case packRefDelta:
		var baseName [20]byte
		if _, err := io.ReadFull(br, baseName[:]); err != nil {
			return NoneObject, nil, fmt.Errorf("delta base name: %w", err)
		}
		baseID, err := NewHashFromBytes(baseName)
		if err != nil {
			return NoneObject, nil, err
		}
		delta, err := inflate(br, size)
		if err != nil {
			return NoneObject, nil, fmt.Errorf("delta data: %w", err)
		}
		baseType, base, err := r.readPackedObjectDepth(baseID, depth+1)
		if errors.Is(err, ErrObjectNotFound) {
			baseType, base, err = r.readLooseObject(baseID)
		}
		if err != nil {
			return NoneObject, nil, fmt.Errorf("delta base %s: %w", baseID.Short(), err)
		}
		result, err := applyDelta(base, delta)
		return baseType, result, err

	default:
		return NoneObject, nil, fmt.Errorf("unsupported pack entry type %d", typ)
	}
}

// readPackObjectHeader reads the variable-length type and size prefix of a pack entry.
func readPackObjectHeader(br *bufio.Reader) (typ byte, size int64, err error) {
	c, err := br.ReadByte()
	if err != nil {
		return 0, 0, err
	}

	typ = (c >> 4) & 0x07
	size = int64(c & 0x0f)
	shift := 4
	for c&0x80 != 0 {
		if c, err = br.ReadByte(); err != nil {
			return 0, 0, err
		}
		size |= int64(c&0x7f) << shift
		shift += 7
	}

	return typ, size, nil
}

// readOfsDistance decodes the offset-delta base distance; each continuation
// byte adds one before shifting.
func readOfsDistance(br *bufio.Reader) (int64, error) {
	c, err := br.ReadByte()
	if err != nil {
		return 0, err
	}
	distance := int64(c & 0x7f)
	for c&0x80 != 0 {
		if c, err = br.ReadByte(); err != nil {
			return 0, err
		}
		distance = ((distance + 1) << 7) | int64(c&0x7f)
	}
	return distance, nil
}

// inflate decompresses one zlib stream and checks its length.
func inflate(r io.Reader, expectedSize int64) ([]byte, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zlib reader: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(io.LimitReader(zr, expectedSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress data: %w", err)
	}
	if int64(len(data)) != expectedSize {
		return nil, fmt.Errorf("size mismatch: expected %d, got %d", expectedSize, len(data))
	}
	return data, nil
}

// applyDelta rebuilds a target object from base and a git delta stream.
func applyDelta(base []byte, delta []byte) ([]byte, error) {
	src := bytes.NewReader(delta)

	srcSize, err := readVarInt(src)
	if err != nil {
		return nil, err
	}
	if srcSize != int64(len(base)) {
		return nil, fmt.Errorf("base size mismatch: expected %d, got %d", srcSize, len(base))
	}

	targetSize, err := readVarInt(src)
	if err != nil {
		return nil, err
	}

	result := make([]byte, 0, targetSize)
	for {
		cmd, err := src.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch {
		case cmd&0x80 != 0:
			// Copy from base: bits 0-3 select offset bytes, bits 4-6 size bytes.
			var offset, size int64
			for i := uint(0); i < 7; i++ {
				if cmd&(1<<i) == 0 {
					continue
				}
				b, err := src.ReadByte()
				if err != nil {
					return nil, fmt.Errorf("truncated copy command: %w", err)
				}
				if i < 4 {
					offset |= int64(b) << (8 * i)
				} else {
					size |= int64(b) << (8 * (i - 4))
				}
			}
			if size == 0 {
				size = 0x10000
			}
			if offset+size > int64(len(base)) {
				return nil, fmt.Errorf("copy exceeds base size")
			}
			result = append(result, base[offset:offset+size]...)

		case cmd != 0:
			data := make([]byte, int(cmd))
			if _, err := io.ReadFull(src, data); err != nil {
				return nil, err
			}
			result = append(result, data...)

		default:
			return nil, fmt.Errorf("invalid delta command: 0")
		}
	}

	if int64(len(result)) != targetSize {
		return nil, fmt.Errorf("result size mismatch: expected %d, got %d", targetSize, len(result))
	}

	return result, nil
}

// readVarInt reads a little-endian base-128 integer from a delta header.
func readVarInt(src io.ByteReader) (int64, error) {
	var result int64
	var shift uint

	for {
		b, err := src.ReadByte()
		if err != nil {
			return 0, err
		}

		result |= int64(b&0x7f) << shift
		shift += 7

		if b&0x80 == 0 {
			break
		}
	}

	return result, nil
}
