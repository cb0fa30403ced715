package atomic

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// maxRecordBytes guards against allocating from a corrupt length marker.
const maxRecordBytes = 1 << 30

// recordReader reads Fortran unformatted sequential records: every record is
// framed by a 4-byte length marker on both sides.
type recordReader struct {
	r     *bufio.Reader
	order binary.ByteOrder
	index int
}

func newRecordReader(r io.Reader, order binary.ByteOrder) *recordReader {
	return &recordReader{r: bufio.NewReader(r), order: order}
}

func (rr *recordReader) next() ([]byte, error) {
	var head uint32
	if err := binary.Read(rr.r, rr.order, &head); err != nil {
		return nil, fmt.Errorf("%w: record %d: reading length marker: %v", ErrMalformedRecord, rr.index, err)
	}
	if head > maxRecordBytes {
		return nil, fmt.Errorf("%w: record %d: length marker %d out of range", ErrMalformedRecord, rr.index, head)
	}

	buf := make([]byte, head)
	if _, err := io.ReadFull(rr.r, buf); err != nil {
		return nil, fmt.Errorf("%w: record %d: short data: %v", ErrMalformedRecord, rr.index, err)
	}

	var tail uint32
	if err := binary.Read(rr.r, rr.order, &tail); err != nil {
		return nil, fmt.Errorf("%w: record %d: reading trailing marker: %v", ErrMalformedRecord, rr.index, err)
	}
	if tail != head {
		return nil, fmt.Errorf("%w: record %d: markers disagree (%d != %d)", ErrMalformedRecord, rr.index, head, tail)
	}

	rr.index++
	return buf, nil
}

func (rr *recordReader) int32s() ([]int32, error) {
	buf, err := rr.next()
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("%w: record %d: %d bytes is not a whole number of int32", ErrMalformedRecord, rr.index-1, len(buf))
	}
	out := make([]int32, len(buf)/4)
	for i := range out {
		out[i] = int32(rr.order.Uint32(buf[i*4:]))
	}
	return out, nil
}

// float64s reads one record of doubles and checks it holds exactly want values.
func (rr *recordReader) float64s(want int) ([]float64, error) {
	buf, err := rr.next()
	if err != nil {
		return nil, err
	}
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("%w: record %d: %d bytes is not a whole number of float64", ErrMalformedRecord, rr.index-1, len(buf))
	}
	if n := len(buf) / 8; n != want {
		return nil, fmt.Errorf("%w: record %d holds %d values, want %d", ErrStateCount, rr.index-1, n, want)
	}
	out := make([]float64, want)
	for i := range out {
		out[i] = math.Float64frombits(rr.order.Uint64(buf[i*8:]))
	}
	return out, nil
}

type recordWriter struct {
	w     io.Writer
	order binary.ByteOrder
}

func (rw *recordWriter) write(payload []byte) error {
	marker := make([]byte, 4)
	rw.order.PutUint32(marker, uint32(len(payload)))
	if _, err := rw.w.Write(marker); err != nil {
		return err
	}
	if _, err := rw.w.Write(payload); err != nil {
		return err
	}
	_, err := rw.w.Write(marker)
	return err
}

func (rw *recordWriter) int32s(vals ...int32) error {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		rw.order.PutUint32(buf[i*4:], uint32(v))
	}
	return rw.write(buf)
}

func (rw *recordWriter) float64s(vals []float64) error {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		rw.order.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return rw.write(buf)
}
