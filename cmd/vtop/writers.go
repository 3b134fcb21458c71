package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gitlab.com/stephen-fox/vtop/asmkit"
)

const (
	intelSyntax = "intel"

	prettyFormat = "pretty"
	jsonFormat   = "json"
	goFormat     = "go"
)

func newInstWriter(format string, w io.Writer) (instWriter, error) {
	switch format {
	case prettyFormat:
		return &disassWriter{w: w}, nil
	case jsonFormat:
		return &jsonDisassWriter{indent: "  ", w: w}, nil
	case goFormat:
		return &goByteSliceWriter{w: w}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %q", format)
	}
}

type instWriter interface {
	Write(asmkit.Inst) error
	Flush() error
}

var _ instWriter = (*disassWriter)(nil)

type disassWriter struct {
	w io.Writer
}

func (o *disassWriter) Write(inst asmkit.Inst) error {
	_, err := fmt.Fprintf(o.w, "0x%x: %-20x %s\n", inst.Address, inst.Bin, inst.Dis)
	return err
}

func (o *disassWriter) Flush() error {
	return nil
}

var _ instWriter = (*jsonDisassWriter)(nil)

type jsonDisassWriter struct {
	indent string
	w      io.Writer
	buf    []jsonInst
}

type jsonInst struct {
	Address string `json:"address"`
	Bytes   string `json:"bytes"`
	Dis     string `json:"disassembly"`
}

func (o *jsonDisassWriter) Write(inst asmkit.Inst) error {
	o.buf = append(o.buf, jsonInst{
		Address: fmt.Sprintf("0x%x", inst.Address),
		Bytes:   fmt.Sprintf("%x", inst.Bin),
		Dis:     inst.Dis,
	})

	return nil
}

func (o *jsonDisassWriter) Flush() error {
	enc := json.NewEncoder(o.w)

	enc.SetIndent("", o.indent)

	return enc.Encode(o.buf)
}

var _ instWriter = (*goByteSliceWriter)(nil)

type goByteSliceWriter struct {
	isInit bool
	w      io.Writer
}

func (o *goByteSliceWriter) Write(inst asmkit.Inst) error {
	if !o.isInit {
		o.isInit = true

		_, err := o.w.Write([]byte("[]byte{\n"))
		if err != nil {
			return err
		}
	}

	_, err := o.w.Write([]byte{'\t'})
	if err != nil {
		return err
	}

	for _, b := range inst.Bin {
		_, err = fmt.Fprintf(o.w, "0x%02x, ", b)
		if err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(o.w, "// 0x%x: %s\n", inst.Address, inst.Dis)
	return err
}

func (o *goByteSliceWriter) Flush() error {
	if !o.isInit {
		return nil
	}

	_, err := o.w.Write([]byte("}\n"))
	return err
}
