package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// IDX magic numbers for unsigned byte payloads.
const (
	magicLabels = 0x00000801
	magicImages = 0x00000803
)

// maxPayload bounds the byte count a header may declare.
const maxPayload = 1 << 30

// ErrFormat reports a malformed IDX payload.
var ErrFormat = errors.New("idx: malformed file")

// IDX is a decoded IDX file: dimension sizes and the raw byte payload.
type IDX struct {
	Dims []int
	Data []byte
}

// Count returns the size of the first dimension.
func (x IDX) Count() int {
	if len(x.Dims) == 0 {
		return 0
	}
	return x.Dims[0]
}

// OpenIDX reads the IDX file at path, gunzipping it when needed.
func OpenIDX(path string) (IDX, error) {
	f, err := os.Open(path)
	if err != nil {
		return IDX{}, errors.Wrap(err, "open idx")
	}
	defer f.Close()

	x, err := ReadIDX(f)
	if err != nil {
		return IDX{}, errors.Wrapf(err, "read %s", path)
	}
	return x, nil
}

// ReadIDX decodes an IDX stream of unsigned bytes. Gzip input is detected by
// its magic bytes.
func ReadIDX(r io.Reader) (IDX, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil {
		return IDX{}, errors.Wrap(ErrFormat, "short header")
	}
	var src io.Reader = br
	if head[0] == 0x1f && head[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return IDX{}, errors.Wrap(err, "gunzip")
		}
		defer gz.Close()
		src = gz
	}

	var magic uint32
	if err := binary.Read(src, binary.BigEndian, &magic); err != nil {
		return IDX{}, errors.Wrap(ErrFormat, "missing magic")
	}
	var rank int
	switch magic {
	case magicLabels:
		rank = 1
	case magicImages:
		rank = 3
	default:
		return IDX{}, errors.Wrapf(ErrFormat, "unsupported magic 0x%08x", magic)
	}

	dims := make([]int, rank)
	total := 1
	for i := range dims {
		var d uint32
		if err := binary.Read(src, binary.BigEndian, &d); err != nil {
			return IDX{}, errors.Wrapf(ErrFormat, "missing dimension %d", i)
		}
		dims[i] = int(d)
		if d != 0 && total > maxPayload/int(d) {
			return IDX{}, errors.Wrapf(ErrFormat, "dims %v exceed %d bytes", dims[:i+1], maxPayload)
		}
		total *= int(d)
	}

	// Allocate as bytes arrive, not from the declared size.
	data, err := io.ReadAll(io.LimitReader(src, int64(total)))
	if err != nil {
		return IDX{}, errors.Wrapf(ErrFormat, "payload: %v", err)
	}
	if len(data) != total {
		return IDX{}, errors.Wrapf(ErrFormat, "payload: want %d bytes, got %d", total, len(data))
	}
	return IDX{Dims: dims, Data: data}, nil
}
