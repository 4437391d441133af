package wasm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule reads the header and the interface sections of a binary
// module: types, imports, function declarations, exports, and start.
// Other sections are skipped without validation; the engine owns that.
func ParseModule(data []byte) (*Module, error) {
	r := &reader{r: bytes.NewReader(data)}

	magic, err := r.u32le()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.u32le()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	for {
		id, err := r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return m, nil
			}
			return nil, fmt.Errorf("section header: %w", err)
		}
		size, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("section size: %w", err)
		}
		body, err := r.bytes(size)
		if err != nil {
			return nil, fmt.Errorf("section %d data: %w", id, err)
		}
		sr := &reader{r: bytes.NewReader(body)}

		switch id {
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			var idx uint32
			idx, err = sr.u32()
			m.Start = &idx
		}
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
	}
}

type reader struct {
	r *bytes.Reader
}

func (r *reader) u32() (uint32, error) { return ReadLEB128u(r.r) }

func (r *reader) u32le() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *reader) bytes(n uint32) ([]byte, error) {
	if int64(n) > int64(r.r.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	buf := make([]byte, n)
	_, err := io.ReadFull(r.r, buf)
	return buf, err
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(n)
	return string(b), err
}

func (r *reader) valTypes() ([]ValType, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int64(n) > int64(r.r.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	out := make([]ValType, n)
	for i := range out {
		b, err := r.r.ReadByte()
		if err != nil {
			return nil, err
		}
		out[i] = ValType(b)
	}
	return out, nil
}

func (r *reader) limits() (Limits, error) {
	flags, err := r.r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	var l Limits
	if l.Min, err = r.u32(); err != nil {
		return Limits{}, err
	}
	if flags&0x01 != 0 {
		hi, err := r.u32()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &hi
	}
	return l, nil
}

func parseTypeSection(r *reader, m *Module) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		form, err := r.r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: unsupported form 0x%02x", i, form)
		}
		var ft FuncType
		if ft.Params, err = r.valTypes(); err != nil {
			return err
		}
		if ft.Results, err = r.valTypes(); err != nil {
			return err
		}
		m.Types = append(m.Types, ft)
	}
	return nil
}

func parseImportSection(r *reader, m *Module) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var imp Import
		if imp.Module, err = r.name(); err != nil {
			return err
		}
		if imp.Name, err = r.name(); err != nil {
			return err
		}
		if imp.Kind, err = r.r.ReadByte(); err != nil {
			return err
		}
		switch imp.Kind {
		case KindFunc:
			imp.TypeIdx, err = r.u32()
		case KindTable:
			if _, err = r.r.ReadByte(); err == nil {
				_, err = r.limits()
			}
		case KindMemory:
			_, err = r.limits()
		case KindGlobal:
			if _, err = r.r.ReadByte(); err == nil {
				_, err = r.r.ReadByte()
			}
		case KindTag:
			if _, err = r.r.ReadByte(); err == nil {
				imp.TypeIdx, err = r.u32()
			}
		default:
			return fmt.Errorf("import %s.%s: unknown kind 0x%02x", imp.Module, imp.Name, imp.Kind)
		}
		if err != nil {
			return err
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *reader, m *Module) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		idx, err := r.u32()
		if err != nil {
			return err
		}
		m.Funcs = append(m.Funcs, idx)
	}
	return nil
}

func parseExportSection(r *reader, m *Module) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var exp Export
		if exp.Name, err = r.name(); err != nil {
			return err
		}
		if exp.Kind, err = r.r.ReadByte(); err != nil {
			return err
		}
		if exp.Idx, err = r.u32(); err != nil {
			return err
		}
		m.Exports = append(m.Exports, exp)
	}
	return nil
}

// FuncType returns the signature of function index idx, counting imported
// functions first.
func (m *Module) FuncType(idx uint32) (FuncType, bool) {
	n := uint32(0)
	for _, imp := range m.Imports {
		if imp.Kind != KindFunc {
			continue
		}
		if n == idx {
			return m.typeAt(imp.TypeIdx)
		}
		n++
	}
	local := idx - n
	if local >= uint32(len(m.Funcs)) {
		return FuncType{}, false
	}
	return m.typeAt(m.Funcs[local])
}

func (m *Module) typeAt(i uint32) (FuncType, bool) {
	if i >= uint32(len(m.Types)) {
		return FuncType{}, false
	}
	return m.Types[i], true
}

// FuncImports returns the function imports in declaration order.
func (m *Module) FuncImports() []Import {
	var out []Import
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			out = append(out, imp)
		}
	}
	return out
}
