// Package frame implements DBGp framing. The engine sends
// "<decimal length> NUL <xml> NUL"; the IDE sends "<command line> NUL".
package frame

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/go-pantheon/fabrica-dbgp/codec"
	"github.com/go-pantheon/fabrica-dbgp/internal/bufpool"
	"github.com/go-pantheon/fabrica-util/errors"
)

const (
	DefaultMaxPackSize = 16 * 1024 * 1024
	defaultBufSize     = 4096

	maxLenDigits = 10
)

var (
	ErrShortWrite      = errors.New("short write")
	ErrInvalidPackLen  = errors.New("invalid pack len")
	ErrMissingTerminal = errors.New("frame not terminated by NUL")
	ErrEmbeddedNUL     = errors.New("command contains NUL")
)

var _ codec.Codec = (*Codec)(nil)

// Codec is the IDE side of the framing: it writes commands and reads
// length-prefixed XML packets.
type Codec struct {
	w       *bufio.Writer
	r       *bufio.Reader
	maxPack int
	pool    bufpool.Pool
}

type Option func(o *options)

type options struct {
	readBufSize  int
	writeBufSize int
}

// WithReadBufSize sizes the buffered reader. Non-positive sizes are ignored.
func WithReadBufSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readBufSize = n
		}
	}
}

func WithWriteBufSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.writeBufSize = n
		}
	}
}

func New(rw io.ReadWriter, maxPackSize int, opts ...Option) *Codec {
	if maxPackSize <= 0 {
		maxPackSize = DefaultMaxPackSize
	}

	o := &options{
		readBufSize:  defaultBufSize,
		writeBufSize: defaultBufSize,
	}

	for _, opt := range opts {
		opt(o)
	}

	return &Codec{
		w:       bufio.NewWriterSize(rw, o.writeBufSize),
		r:       bufio.NewReaderSize(rw, o.readBufSize),
		maxPack: maxPackSize,
		pool:    bufpool.Default(),
	}
}

func (c *Codec) Encode(pack []byte) error {
	if bytes.IndexByte(pack, 0) >= 0 {
		return ErrEmbeddedNUL
	}

	return writeTerminated(c.w, pack)
}

func (c *Codec) Decode() (pack []byte, free func(), err error) {
	n, err := readLength(c.r, c.maxPack)
	if err != nil {
		return nil, nil, err
	}

	buf := c.pool.Alloc(n + 1)
	free = func() {
		c.pool.Free(buf)
	}

	defer func() {
		if err != nil {
			free()
		}
	}()

	if _, err = io.ReadFull(c.r, buf); err != nil {
		return nil, nil, errors.Wrap(err, "read pack failed")
	}

	if buf[n] != 0 {
		return nil, nil, ErrMissingTerminal
	}

	return buf[:n], free, nil
}

var _ codec.Codec = (*EngineCodec)(nil)

// EngineCodec is the engine side of the framing, used by test engines.
type EngineCodec struct {
	w *bufio.Writer
	r *bufio.Reader
}

func NewEngine(rw io.ReadWriter) *EngineCodec {
	return &EngineCodec{
		w: bufio.NewWriter(rw),
		r: bufio.NewReader(rw),
	}
}

func (c *EngineCodec) Encode(pack []byte) error {
	if _, err := c.w.WriteString(strconv.Itoa(len(pack))); err != nil {
		return errors.Wrap(err, "write pack len failed")
	}

	if err := c.w.WriteByte(0); err != nil {
		return errors.Wrap(err, "write pack len failed")
	}

	return writeTerminated(c.w, pack)
}

func (c *EngineCodec) Decode() (pack []byte, free func(), err error) {
	line, err := c.r.ReadBytes(0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read command failed")
	}

	return line[:len(line)-1], func() {}, nil
}

func writeTerminated(w *bufio.Writer, pack []byte) error {
	n, err := w.Write(pack)
	if err != nil {
		return errors.Wrap(err, "write pack failed")
	}

	if n != len(pack) {
		return ErrShortWrite
	}

	if err := w.WriteByte(0); err != nil {
		return errors.Wrap(err, "write pack terminator failed")
	}

	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush writer failed")
	}

	return nil
}

func readLength(r *bufio.Reader, max int) (int, error) {
	digits, err := r.ReadSlice(0)
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return 0, ErrInvalidPackLen
		}

		return 0, errors.Wrap(err, "read pack len failed")
	}

	digits = digits[:len(digits)-1]
	if len(digits) == 0 || len(digits) > maxLenDigits {
		return 0, errors.Wrapf(ErrInvalidPackLen, "len=%q", digits)
	}

	n, err := strconv.Atoi(string(digits))
	if err != nil || n <= 0 || n > max {
		return 0, errors.Wrapf(ErrInvalidPackLen, "len=%q", digits)
	}

	return n, nil
}
