// Package clrmeta reads type and method definitions from the CLR metadata of
// a compiled .NET library, without disassembling it.
package clrmeta

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	clrDirectory      = 14 // IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR
	metadataSignature = 0x424A5342

	heapStringsWide = 0x01
	heapGUIDWide    = 0x02
	heapBlobWide    = 0x04
	heapExtraData   = 0x40

	visibilityMask = 0x07
	nestedPublic   = 0x02 // first of the nested visibility values
)

// Table numbers up to MethodDef; their rows precede the MethodDef table.
const (
	tableModule = iota
	tableTypeRef
	tableTypeDef
	tableFieldPtr
	tableField
	tableMethodPtr
	tableMethodDef
	tableParam = 0x08

	tableTypeSpec    = 0x1B
	tableModuleRef   = 0x1A
	tableAssemblyRef = 0x23
	tableCount       = 64
)

var ErrNotManaged = errors.New("clrmeta: not a managed assembly")

// Assembly is the method list of every top-level type definition, keyed by
// namespace-qualified name (e.g. "Demo.RecordList`1").
type Assembly struct {
	types map[string][]string
}

// ReadFile reads the metadata of the library at path.
func ReadFile(path string) (*Assembly, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read reads the metadata of a library image.
func Read(r io.ReaderAt) (*Assembly, error) {
	img, err := pe.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotManaged, err)
	}
	defer img.Close()

	var dirs []pe.DataDirectory
	switch oh := img.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	case *pe.OptionalHeader64:
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	}
	if len(dirs) <= clrDirectory || dirs[clrDirectory].VirtualAddress == 0 {
		return nil, ErrNotManaged
	}

	cli, err := readRVA(img, dirs[clrDirectory].VirtualAddress, dirs[clrDirectory].Size)
	if err != nil {
		return nil, err
	}
	if len(cli) < 16 {
		return nil, errors.New("clrmeta: truncated CLI header")
	}
	le := binary.LittleEndian
	meta, err := readRVA(img, le.Uint32(cli[8:]), le.Uint32(cli[12:]))
	if err != nil {
		return nil, err
	}
	streams, err := readStreams(meta)
	if err != nil {
		return nil, err
	}
	tables, ok := streams["#~"]
	if !ok {
		return nil, errors.New("clrmeta: no compressed table stream")
	}
	return readTables(tables, streams["#Strings"])
}

// readRVA returns size bytes of the image mapped at rva.
func readRVA(img *pe.File, rva, size uint32) ([]byte, error) {
	for _, s := range img.Sections {
		span := s.VirtualSize
		if s.Size > span {
			span = s.Size
		}
		if rva < s.VirtualAddress || rva >= s.VirtualAddress+span {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, err
		}
		off := rva - s.VirtualAddress
		if uint64(off)+uint64(size) > uint64(len(data)) {
			return nil, fmt.Errorf("clrmeta: rva %#x+%d beyond section %s", rva, size, s.Name)
		}
		return data[off : off+size], nil
	}
	return nil, fmt.Errorf("clrmeta: rva %#x not mapped", rva)
}

func readStreams(meta []byte) (map[string][]byte, error) {
	le := binary.LittleEndian
	if len(meta) < 16 || le.Uint32(meta) != metadataSignature {
		return nil, errors.New("clrmeta: bad metadata signature")
	}
	verLen := int(le.Uint32(meta[12:]))
	pos := 16 + verLen
	if pos+4 > len(meta) {
		return nil, errors.New("clrmeta: truncated metadata root")
	}
	count := int(le.Uint16(meta[pos+2:]))
	pos += 4

	streams := make(map[string][]byte, count)
	for i := 0; i < count; i++ {
		if pos+8 > len(meta) {
			return nil, errors.New("clrmeta: truncated stream header")
		}
		off, size := le.Uint32(meta[pos:]), le.Uint32(meta[pos+4:])
		pos += 8
		end := bytes.IndexByte(meta[pos:], 0)
		if end < 0 {
			return nil, errors.New("clrmeta: unterminated stream name")
		}
		name := string(meta[pos : pos+end])
		pos += (end + 4) &^ 3
		if uint64(off)+uint64(size) > uint64(len(meta)) {
			return nil, fmt.Errorf("clrmeta: stream %s out of range", name)
		}
		streams[name] = meta[off : off+size]
	}
	return streams, nil
}

// tableReader decodes rows of the "#~" stream.
type tableReader struct {
	data    []byte
	pos     int
	rows    [tableCount]uint32
	strWide bool
	guidW   int
	blobW   int
	err     error
}

func (t *tableReader) uint(n int) uint32 {
	if t.err != nil {
		return 0
	}
	if t.pos+n > len(t.data) {
		t.err = errors.New("clrmeta: truncated table stream")
		return 0
	}
	b := t.data[t.pos : t.pos+n]
	t.pos += n
	switch n {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	default:
		return binary.LittleEndian.Uint32(b)
	}
}

func (t *tableReader) indexWidth(table int) int {
	if t.rows[table] < 1<<16 {
		return 2
	}
	return 4
}

func (t *tableReader) codedWidth(tagBits uint, tables ...int) int {
	var most uint32
	for _, tb := range tables {
		most = max(most, t.rows[tb])
	}
	if most < 1<<(16-tagBits) {
		return 2
	}
	return 4
}

func (t *tableReader) strWidth() int {
	if t.strWide {
		return 4
	}
	return 2
}

func readTables(stream, strHeap []byte) (*Assembly, error) {
	t := &tableReader{data: stream, guidW: 2, blobW: 2}
	t.pos = 6 // reserved, major, minor
	heaps := t.uint(1)
	t.pos++ // reserved
	lo := t.uint(4)
	valid := uint64(lo) | uint64(t.uint(4))<<32
	t.pos += 8 // sorted
	for i := 0; i < tableCount; i++ {
		if valid&(1<<uint(i)) != 0 {
			t.rows[i] = t.uint(4)
		}
	}
	if heaps&heapExtraData != 0 {
		t.pos += 4
	}
	t.strWide = heaps&heapStringsWide != 0
	if heaps&heapGUIDWide != 0 {
		t.guidW = 4
	}
	if heaps&heapBlobWide != 0 {
		t.blobW = 4
	}
	if t.err != nil {
		return nil, t.err
	}
	if t.rows[tableFieldPtr] != 0 || t.rows[tableMethodPtr] != 0 {
		return nil, errors.New("clrmeta: indirect member tables are not supported")
	}

	str := t.strWidth()
	resolutionScope := t.codedWidth(2, tableModule, tableModuleRef, tableAssemblyRef, tableTypeRef)
	typeDefOrRef := t.codedWidth(2, tableTypeDef, tableTypeRef, tableTypeSpec)

	// Skip the tables that precede TypeDef.
	t.pos += int(t.rows[tableModule]) * (2 + str + 3*t.guidW)
	t.pos += int(t.rows[tableTypeRef]) * (resolutionScope + 2*str)

	type typeDef struct {
		flags, name, namespace, methods uint32
	}
	defs := make([]typeDef, t.rows[tableTypeDef])
	for i := range defs {
		defs[i].flags = t.uint(4)
		defs[i].name = t.uint(str)
		defs[i].namespace = t.uint(str)
		t.uint(typeDefOrRef)
		t.uint(t.indexWidth(tableField))
		defs[i].methods = t.uint(t.indexWidth(tableMethodDef))
	}

	t.pos += int(t.rows[tableField]) * (2 + str + t.blobW)

	methods := make([]uint32, t.rows[tableMethodDef])
	for i := range methods {
		t.pos += 4 + 2 + 2 // RVA, ImplFlags, Flags
		methods[i] = t.uint(str)
		t.uint(t.blobW)
		t.uint(t.indexWidth(tableParam))
	}
	if t.err != nil {
		return nil, t.err
	}

	a := &Assembly{types: make(map[string][]string, len(defs))}
	for i, d := range defs {
		if d.flags&visibilityMask >= nestedPublic {
			continue
		}
		start := d.methods
		end := uint32(len(methods)) + 1
		if i+1 < len(defs) {
			end = defs[i+1].methods
		}
		name := heapString(strHeap, d.name)
		if ns := heapString(strHeap, d.namespace); ns != "" {
			name = ns + "." + name
		}
		var members []string
		for m := start; m < end && m >= 1 && int(m) <= len(methods); m++ {
			members = append(members, heapString(strHeap, methods[m-1]))
		}
		a.types[name] = members
	}
	return a, nil
}

func heapString(heap []byte, off uint32) string {
	if int(off) >= len(heap) {
		return ""
	}
	s := heap[off:]
	if end := bytes.IndexByte(s, 0); end >= 0 {
		s = s[:end]
	}
	return string(s)
}

// Methods returns the method names of a top-level type, or nil.
func (a *Assembly) Methods(typeName string) []string {
	if a == nil {
		return nil
	}
	return a.types[typeName]
}

// HasMethod reports whether typeName defines a method called name. Names are
// metadata names, without IL quoting.
func (a *Assembly) HasMethod(typeName, name string) bool {
	for _, m := range a.Methods(typeName) {
		if m == name {
			return true
		}
	}
	return false
}

// Len is the number of top-level types read.
func (a *Assembly) Len() int {
	if a == nil {
		return 0
	}
	return len(a.types)
}
