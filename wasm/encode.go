package wasm

import (
	"encoding/binary"
	"math"
)

// writer accumulates binary format output.
type writer struct {
	buf []byte
}

func (w *writer) byte(b byte) { w.buf = append(w.buf, b) }

func (w *writer) bytes(data []byte) { w.buf = append(w.buf, data...) }

func (w *writer) u32(v uint32) { w.buf = AppendULEB128(w.buf, uint64(v)) }

func (w *writer) u32le(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *writer) valType(v ValType) { w.byte(byte(v)) }

func (w *writer) name(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) section(id byte, body *writer) {
	w.byte(id)
	w.u32(uint32(len(body.buf)))
	w.bytes(body.buf)
}

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	w := &writer{}

	w.u32le(Magic)
	w.u32le(Version)

	if len(m.Types) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		w.section(SectionType, sec)
	}

	if len(m.Imports) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.name(imp.Module)
			sec.name(imp.Name)
			sec.byte(imp.Kind)
			// Only function imports are produced by the bridge's builders.
			sec.u32(imp.TypeIdx)
		}
		w.section(SectionImport, sec)
	}

	if len(m.Funcs) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec.u32(typeIdx)
		}
		w.section(SectionFunction, sec)
	}

	if len(m.Tables) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.Tables)))
		for _, t := range m.Tables {
			sec.valType(t.ElemType)
			writeLimits(sec, t.Limits)
		}
		w.section(SectionTable, sec)
	}

	if len(m.Memories) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeLimits(sec, mem)
		}
		w.section(SectionMemory, sec)
	}

	if len(m.Globals) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec.valType(g.Type)
			if g.Mutable {
				sec.byte(1)
			} else {
				sec.byte(0)
			}
			sec.bytes(g.Init)
		}
		w.section(SectionGlobal, sec)
	}

	if len(m.Exports) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.name(exp.Name)
			sec.byte(exp.Kind)
			sec.u32(exp.Idx)
		}
		w.section(SectionExport, sec)
	}

	if m.Start != nil {
		sec := &writer{}
		sec.u32(*m.Start)
		w.section(SectionStart, sec)
	}

	if len(m.Code) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.Code)))
		for _, body := range m.Code {
			fn := &writer{}
			fn.u32(uint32(len(body.Locals)))
			for _, l := range body.Locals {
				fn.u32(l.Count)
				fn.valType(l.Type)
			}
			fn.bytes(body.Code)
			sec.u32(uint32(len(fn.buf)))
			sec.bytes(fn.buf)
		}
		w.section(SectionCode, sec)
	}

	return w.buf
}

func writeValTypes(w *writer, types []ValType) {
	w.u32(uint32(len(types)))
	for _, t := range types {
		w.valType(t)
	}
}

func writeLimits(w *writer, l Limits) {
	if l.Max != nil {
		w.byte(0x01)
		w.u32(l.Min)
		w.u32(*l.Max)
		return
	}
	w.byte(0x00)
	w.u32(l.Min)
}

// I32Const encodes an i32.const instruction.
func I32Const(v int32) []byte {
	return AppendSLEB128([]byte{OpI32Const}, int64(v))
}

// I64Const encodes an i64.const instruction.
func I64Const(v int64) []byte {
	return AppendSLEB128([]byte{OpI64Const}, v)
}

// F32Const encodes an f32.const instruction.
func F32Const(v float32) []byte {
	return binary.LittleEndian.AppendUint32([]byte{OpF32Const}, math.Float32bits(v))
}

// F64Const encodes an f64.const instruction.
func F64Const(v float64) []byte {
	return binary.LittleEndian.AppendUint64([]byte{OpF64Const}, math.Float64bits(v))
}

// LocalGet encodes a local.get instruction.
func LocalGet(idx uint32) []byte {
	return AppendULEB128([]byte{OpLocalGet}, uint64(idx))
}

// Call encodes a call instruction.
func Call(funcIdx uint32) []byte {
	return AppendULEB128([]byte{OpCall}, uint64(funcIdx))
}

// Instr concatenates instruction fragments and appends the end opcode.
func Instr(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return append(out, OpEnd)
}
