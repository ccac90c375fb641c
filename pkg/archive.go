package pkg

import (
	"fmt"
	"io"
	"strings"
)

// Contents of boot and channel titles embed a packed filesystem: a node
// table in depth first order, a NUL separated name pool and a data region.
// Directory nodes store where their subtree ends, file nodes an absolute
// offset and size into the archive.

const (
	archiveMagic      uint32 = 0x55aa382d
	archiveRootOffset uint32 = 0x20
	archiveNodeSize          = 12
	archiveDataAlign         = 32
)

// ArchiveNode is one entry of an embedded archive tree. Directories hold
// ordered children; files reference a byte range of the archive (or, for
// trees built in memory, carry the bytes directly).
type ArchiveNode struct {
	Name     string
	Dir      bool
	Children []*ArchiveNode

	// Data holds file bytes for nodes created in memory. Nodes that came
	// from a parse leave it nil and read through the archive instead.
	Data []byte

	offset uint32
	size   uint32
}

// Size is the byte size of a file node.
func (n *ArchiveNode) Size() uint32 {
	if n.Data != nil {
		return uint32(len(n.Data))
	}
	return n.size
}

// Archive is a parsed embedded filesystem. The backing stream is retained
// for lazy file access.
type Archive struct {
	Root *ArchiveNode

	rs   io.ReadSeeker
	base int64
}

type rawArchiveNode struct {
	typeAndName uint32
	dataOffset  uint32
	size        uint32
}

func (r rawArchiveNode) isDir() bool {
	return r.typeAndName>>24 == 1
}

func (r rawArchiveNode) nameOffset() uint32 {
	return r.typeAndName & 0x00ffffff
}

// ParseArchive reads an embedded archive from the current position of the
// stream. Offsets inside the archive are relative to that position.
func ParseArchive(rs io.ReadSeeker) (*Archive, error) {
	p, err := newPinReader(rs)
	if err != nil {
		return nil, err
	}

	var magic uint32
	if err := readBE(p, &magic); err != nil {
		return nil, err
	}
	if magic != archiveMagic {
		return nil, fmt.Errorf("%w: archive magic %#x", ErrBadMagic, magic)
	}

	var rootOffset, tableSize, dataOffset uint32
	if err := readBE(p, &rootOffset); err != nil {
		return nil, err
	}
	if rootOffset != archiveRootOffset {
		return nil, fmt.Errorf("%w: archive root node offset %#x", ErrInvalidField, rootOffset)
	}
	if err := readBE(p, &tableSize); err != nil {
		return nil, err
	}
	if err := readBE(p, &dataOffset); err != nil {
		return nil, err
	}

	if err := p.seekTo(int64(rootOffset)); err != nil {
		return nil, err
	}

	var root rawArchiveNode
	if err := readArchiveNode(p, &root); err != nil {
		return nil, err
	}
	if !root.isDir() {
		return nil, fmt.Errorf("%w: archive root is not a directory", ErrInvalidField)
	}

	count := root.size
	if count == 0 {
		return nil, fmt.Errorf("%w: archive declares zero nodes", ErrInvalidField)
	}

	raw := make([]rawArchiveNode, count)
	raw[0] = root
	for i := uint32(1); i < count; i++ {
		if err := readArchiveNode(p, &raw[i]); err != nil {
			return nil, fmt.Errorf("archive node %d: %w", i, err)
		}
	}

	namePool, err := readFull(p, int(tableSize-count*archiveNodeSize))
	if err != nil {
		return nil, err
	}

	nodes := make([]*ArchiveNode, count)
	for i := range raw {
		nameOffset := raw[i].nameOffset()
		if nameOffset >= uint32(len(namePool)) {
			return nil, fmt.Errorf("%w: archive node %d name offset %#x", ErrInvalidField, i, nameOffset)
		}
		nodes[i] = &ArchiveNode{
			Name:   trimNul(namePool[nameOffset:]),
			Dir:    raw[i].isDir(),
			offset: raw[i].dataOffset,
			size:   raw[i].size,
		}
	}

	// Rebuild the tree: a directory's size field is the index of the
	// first node outside its subtree.
	type openDir struct {
		node *ArchiveNode
		end  uint32
	}
	stack := []openDir{{node: nodes[0], end: count}}

	for i := uint32(1); i < count; i++ {
		for stack[len(stack)-1].end == i {
			stack = stack[:len(stack)-1]
		}

		parent := stack[len(stack)-1]
		parent.node.Children = append(parent.node.Children, nodes[i])

		if nodes[i].Dir {
			if nodes[i].size <= i || nodes[i].size > count {
				return nil, fmt.Errorf("%w: archive directory %d ends at node %d",
					ErrInvalidField, i, nodes[i].size)
			}
			stack = append(stack, openDir{node: nodes[i], end: nodes[i].size})
		}
	}

	return &Archive{Root: nodes[0], rs: rs, base: p.base}, nil
}

func readArchiveNode(p *pinReader, out *rawArchiveNode) error {
	if err := readBE(p, &out.typeAndName); err != nil {
		return err
	}
	if err := readBE(p, &out.dataOffset); err != nil {
		return err
	}
	return readBE(p, &out.size)
}

// FileView is a window over a file node's bytes.
func (a *Archive) FileView(n *ArchiveNode) (*SectionView, error) {
	if n.Dir {
		return nil, fmt.Errorf("%w: node %q is a directory", ErrInvalidField, n.Name)
	}
	if n.Data != nil {
		return nil, fmt.Errorf("%w: node %q is not backed by the archive", ErrInvalidField, n.Name)
	}
	return &SectionView{rs: a.rs, base: a.base + int64(n.offset), size: int64(n.size)}, nil
}

// Find resolves a slash separated path from the root. An empty path returns
// the root itself.
func (a *Archive) Find(path string) (*ArchiveNode, error) {
	node := a.Root
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}

		var next *ArchiveNode
		for _, child := range node.Children {
			if child.Name == segment {
				next = child
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%w: archive path %q", ErrContentNotFound, path)
		}
		node = next
	}
	return node, nil
}

// fileBytes materializes a file node, from memory or the backing stream.
func (a *Archive) fileBytes(n *ArchiveNode) ([]byte, error) {
	if n.Data != nil {
		return n.Data, nil
	}
	if a == nil || a.rs == nil {
		return nil, fmt.Errorf("%w: node %q has no data source", ErrInvalidField, n.Name)
	}
	view, err := a.FileView(n)
	if err != nil {
		return nil, err
	}
	return readFull(view, int(view.Size()))
}

// Dump serializes the archive at the current position of the stream: node
// table in depth first order, name pool, then file data aligned to 32
// bytes. Child ordering is preserved as held.
func (a *Archive) Dump(w io.Writer) error {
	p := newPinWriter(w)

	// Flatten depth first, recording subtree ends for directories.
	var flat []*ArchiveNode
	ends := map[*ArchiveNode]uint32{}

	var flatten func(n *ArchiveNode) error
	seen := map[*ArchiveNode]bool{}
	flatten = func(n *ArchiveNode) error {
		if seen[n] {
			return fmt.Errorf("%w: archive node %q appears twice in the tree", ErrInvalidField, n.Name)
		}
		seen[n] = true

		flat = append(flat, n)
		if n.Dir {
			for _, child := range n.Children {
				if err := flatten(child); err != nil {
					return err
				}
			}
			ends[n] = uint32(len(flat))
		}
		return nil
	}
	if !a.Root.Dir {
		return fmt.Errorf("%w: archive root is not a directory", ErrInvalidField)
	}
	if err := flatten(a.Root); err != nil {
		return err
	}

	count := uint32(len(flat))

	// Name pool in node order, deduplicated. The root's empty name sits
	// at offset zero.
	nameOffsets := map[string]uint32{"": 0}
	pool := []byte{0}
	for _, n := range flat {
		if _, ok := nameOffsets[n.Name]; ok {
			continue
		}
		nameOffsets[n.Name] = uint32(len(pool))
		pool = append(pool, n.Name...)
		pool = append(pool, 0)
	}

	tableSize := count*archiveNodeSize + uint32(len(pool))
	dataStart := uint32(alignUp(uint64(archiveRootOffset+tableSize), archiveDataAlign))

	// Lay out file data.
	fileOffsets := make(map[*ArchiveNode]uint32)
	fileData := make(map[*ArchiveNode][]byte)
	cursor := dataStart
	for _, n := range flat {
		if n.Dir {
			continue
		}
		data, err := a.fileBytes(n)
		if err != nil {
			return err
		}
		cursor = uint32(alignUp(uint64(cursor), archiveDataAlign))
		fileOffsets[n] = cursor
		fileData[n] = data
		cursor += uint32(len(data))
	}

	// Header.
	if err := p.writeBE(archiveMagic); err != nil {
		return err
	}
	if err := p.writeBE(archiveRootOffset); err != nil {
		return err
	}
	if err := p.writeBE(tableSize); err != nil {
		return err
	}
	if err := p.writeBE(dataStart); err != nil {
		return err
	}
	if err := p.writeZeros(16); err != nil {
		return err
	}

	// Node table. Directory data offsets hold the index of the parent.
	parents := map[*ArchiveNode]uint32{}
	index := map[*ArchiveNode]uint32{}
	for i, n := range flat {
		index[n] = uint32(i)
	}
	for _, n := range flat {
		if n.Dir {
			for _, child := range n.Children {
				parents[child] = index[n]
			}
		}
	}

	for _, n := range flat {
		typeByte := uint32(0)
		if n.Dir {
			typeByte = 1
		}
		if err := p.writeBE(typeByte<<24 | nameOffsets[n.Name]); err != nil {
			return err
		}
		if n.Dir {
			if err := p.writeBE(parents[n]); err != nil {
				return err
			}
			if err := p.writeBE(ends[n]); err != nil {
				return err
			}
		} else {
			if err := p.writeBE(fileOffsets[n]); err != nil {
				return err
			}
			if err := p.writeBE(uint32(len(fileData[n]))); err != nil {
				return err
			}
		}
	}

	if _, err := p.Write(pool); err != nil {
		return err
	}

	for _, n := range flat {
		if n.Dir {
			continue
		}
		if err := p.alignZeros(archiveDataAlign); err != nil {
			return err
		}
		if _, err := p.Write(fileData[n]); err != nil {
			return err
		}
	}

	return nil
}
