// Package filters implements the stream filter pipeline: decoders for
// the codecs that appear in /Filter chains and the Flate encoder used
// when writing. Image codecs (DCTDecode, JPXDecode) are passthrough at
// this level; image-aware operations decode them with image packages.
package filters

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"compress/zlib"
	stdascii85 "encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var ErrUnknownFilter = errors.New("filters: unknown filter")

type Decoder interface {
	Name() string
	Decode(input []byte, params Params) ([]byte, error)
}

// Params carries the relevant DecodeParms entries for one filter.
type Params struct {
	EarlyChange int
	Predictor   int
}

type Limits struct {
	// MaxDecompressedSize bounds the output of any single decode step.
	MaxDecompressedSize int64
}

// Pipeline resolves filter names to decoders and runs chains in order.
type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

func NewPipeline(limits Limits) *Pipeline {
	p := &Pipeline{decoders: make(map[string]Decoder), limits: limits}
	for _, d := range []Decoder{
		flateDecoder{}, lzwDecoder{}, asciiHexDecoder{},
		ascii85Decoder{}, runLengthDecoder{}, passthrough{"DCTDecode"},
		passthrough{"JPXDecode"}, passthrough{"CCITTFaxDecode"},
		passthrough{"JBIG2Decode"},
	} {
		p.decoders[d.Name()] = d
	}
	return p
}

// Passthrough reports whether name is an image codec the pipeline leaves
// encoded.
func (p *Pipeline) Passthrough(name string) bool {
	_, ok := p.decoders[name].(passthrough)
	return ok
}

// Decode runs the filter chain over input. params may be shorter than
// names; missing entries decode with defaults.
func (p *Pipeline) Decode(input []byte, names []string, params []Params) ([]byte, error) {
	data := input
	for i, name := range names {
		dec, ok := p.decoders[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, name)
		}
		var param Params
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(data, param)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, fmt.Errorf("%s: decompressed size exceeds limit", name)
		}
		data = out
	}
	return data, nil
}

// FlateEncode compresses data with zlib as FlateDecode expects.
func FlateEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type flateDecoder struct{}

func (flateDecoder) Name() string { return "FlateDecode" }

func (flateDecoder) Decode(in []byte, params Params) ([]byte, error) {
	if params.Predictor > 1 {
		return nil, errors.New("predictors not supported")
	}
	var r io.ReadCloser
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		// Some producers emit raw deflate without the zlib header.
		r = flate.NewReader(bytes.NewReader(in))
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return out.Bytes(), nil
}

type lzwDecoder struct{}

func (lzwDecoder) Name() string { return "LZWDecode" }

func (lzwDecoder) Decode(in []byte, params Params) ([]byte, error) {
	if params.Predictor > 1 {
		return nil, errors.New("predictors not supported")
	}
	if params.EarlyChange == 0 {
		// PDF default is 1; lzw.NewReader implements the EarlyChange=1
		// (off-by-one) variant natively.
		params.EarlyChange = 1
	}
	if params.EarlyChange != 1 {
		return nil, errors.New("EarlyChange 0 not supported")
	}
	r := lzw.NewReader(bytes.NewReader(in), lzw.MSB, 8)
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return out.Bytes(), nil
}

type asciiHexDecoder struct{}

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }

func (asciiHexDecoder) Decode(in []byte, _ Params) ([]byte, error) {
	compact := make([]byte, 0, len(in))
	for _, c := range in {
		if c == '>' {
			break
		}
		if isHexWS(c) {
			continue
		}
		compact = append(compact, c)
	}
	if len(compact)%2 == 1 {
		compact = append(compact, '0')
	}
	out := make([]byte, hex.DecodedLen(len(compact)))
	n, err := hex.Decode(out, compact)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func isHexWS(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

type ascii85Decoder struct{}

func (ascii85Decoder) Name() string { return "ASCII85Decode" }

func (ascii85Decoder) Decode(in []byte, _ Params) ([]byte, error) {
	trimmed := bytes.TrimSpace(in)
	if bytes.HasPrefix(trimmed, []byte("<~")) {
		trimmed = trimmed[2:]
	}
	if i := bytes.Index(trimmed, []byte("~>")); i >= 0 {
		trimmed = trimmed[:i]
	}
	out := make([]byte, stdascii85.MaxEncodedLen(len(trimmed)))
	n, _, err := stdascii85.Decode(out, trimmed, true)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

type runLengthDecoder struct{}

func (runLengthDecoder) Name() string { return "RunLengthDecode" }

func (runLengthDecoder) Decode(in []byte, _ Params) ([]byte, error) {
	var out bytes.Buffer
	i := 0
	for i < len(in) {
		length := in[i]
		i++
		switch {
		case length == 128:
			return out.Bytes(), nil
		case length < 128:
			n := int(length) + 1
			if i+n > len(in) {
				return nil, errors.New("truncated literal run")
			}
			out.Write(in[i : i+n])
			i += n
		default:
			if i >= len(in) {
				return nil, errors.New("truncated repeat run")
			}
			n := 257 - int(length)
			for k := 0; k < n; k++ {
				out.WriteByte(in[i])
			}
			i++
		}
	}
	return out.Bytes(), nil
}

// passthrough marks codecs whose payload stays encoded in the stream;
// consumers that need pixels decode them with image codecs.
type passthrough struct{ name string }

func (p passthrough) Name() string { return p.name }

func (passthrough) Decode(in []byte, _ Params) ([]byte, error) { return in, nil }
