package primitive

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// Compress compresses in using the given algorithm. ZipNone returns a copy
// of in unchanged so callers can always round-trip through Decompress.
func Compress(id ZipID, in []byte) ([]byte, error) {
	switch id {
	case ZipNone:
		out := make([]byte, len(in))
		copy(out, in)
		return out, nil
	case ZipDeflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(in); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, ErrUnknownZip
	}
}

// Decompress inflates in, failing fast if the result would exceed
// expectedLen or if trailing bytes remain after the stream ends
// (spec.md §4.A: "must fail fast on trailing junk and on output that
// would exceed expected_len").
func Decompress(id ZipID, in []byte, expectedLen int) ([]byte, error) {
	switch id {
	case ZipNone:
		if len(in) != expectedLen {
			return nil, ErrOutputTooBig
		}
		out := make([]byte, len(in))
		copy(out, in)
		return out, nil
	case ZipDeflate:
		src := bytes.NewReader(in)
		r := flate.NewReader(src)
		defer r.Close()
		limited := io.LimitReader(r, int64(expectedLen)+1)
		out, err := io.ReadAll(limited)
		if err != nil {
			return nil, err
		}
		if len(out) > expectedLen {
			return nil, ErrOutputTooBig
		}
		// The inflater has reached the end of the stream. It reads a
		// bytes.Reader one byte at a time, so any input it left unread
		// is trailing junk.
		if src.Len() != 0 {
			return nil, ErrTrailingData
		}
		return out, nil
	default:
		return nil, ErrUnknownZip
	}
}
