package nbd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/cloudnbd/pkg/export"
)

// ErrAbort is returned by Handshake when the client sends NBD_OPT_ABORT:
// the connection should be closed without error, not logged as a failure.
var ErrAbort = errors.New("nbd: client aborted handshake")

// ErrClientFlags is returned when the client's handshake flags don't
// include the fixed-newstyle bit this server requires.
var ErrClientFlags = errors.New("nbd: client flags missing NBD_FLAG_C_FIXED_NEWSTYLE")

// ErrNoSuchExport is returned when NBD_OPT_EXPORT_NAME names an export this
// server doesn't have.
var ErrNoSuchExport = export.ErrNotFound

// Handshake runs newstyle option negotiation on rw and returns the export
// the client selected. It writes the initial magic/flags, reads the
// client's acknowledgement, then loops on client options:
//
//   - NBD_OPT_EXPORT_NAME: looks the export up, writes the export item, and
//     returns — this is the only option that ends negotiation successfully.
//   - NBD_OPT_ABORT: acknowledges and returns ErrAbort.
//   - anything else: replies NBD_REP_ERR_UNSUP and keeps looping.
func Handshake(rw io.ReadWriter, table *export.Table) (*export.Handle, error) {
	if err := writeServerGreeting(rw); err != nil {
		return nil, fmt.Errorf("nbd: write greeting: %w", err)
	}

	clientFlags, err := readUint32(rw)
	if err != nil {
		return nil, fmt.Errorf("nbd: read client flags: %w", err)
	}
	if clientFlags&clientFlagFixedNewstyle == 0 {
		return nil, ErrClientFlags
	}

	for {
		opt, payload, err := readClientOption(rw)
		if err != nil {
			return nil, fmt.Errorf("nbd: read client option: %w", err)
		}

		switch opt {
		case optExportName:
			handle, err := table.Lookup(string(payload))
			if err != nil {
				// The wire protocol has no "export not found" reply for
				// NBD_OPT_EXPORT_NAME in newstyle negotiation — the only
				// correct response is to drop the connection, which the
				// caller does when Handshake returns a non-nil error.
				return nil, fmt.Errorf("nbd: export %q: %w", payload, err)
			}
			if err := writeExportItem(rw, handle.TotalSize()); err != nil {
				return nil, fmt.Errorf("nbd: write export item: %w", err)
			}
			return handle, nil

		case optAbort:
			if err := writeOptionReply(rw, opt, repAck, nil); err != nil {
				return nil, fmt.Errorf("nbd: write abort ack: %w", err)
			}
			return nil, ErrAbort

		default:
			if err := writeOptionReply(rw, opt, repErrUnsup, nil); err != nil {
				return nil, fmt.Errorf("nbd: write unsupported reply: %w", err)
			}
		}
	}
}

func writeServerGreeting(w io.Writer) error {
	buf := make([]byte, 8+8+2)
	binary.BigEndian.PutUint64(buf[0:8], nbdMagic)
	binary.BigEndian.PutUint64(buf[8:16], iHaveOptMagic)
	binary.BigEndian.PutUint16(buf[16:18], handshakeFlagFixedNewstyle)
	_, err := w.Write(buf)
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// readClientOption reads one ClientOption: magic(8) + option(4) + length(4)
// + payload(length).
func readClientOption(r io.Reader) (opt uint32, payload []byte, err error) {
	magic, err := readUint64(r)
	if err != nil {
		return 0, nil, err
	}
	if magic != iHaveOptMagic {
		return 0, nil, fmt.Errorf("nbd: bad option magic %#x", magic)
	}

	opt, err = readUint32(r)
	if err != nil {
		return 0, nil, err
	}

	length, err := readUint32(r)
	if err != nil {
		return 0, nil, err
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return opt, payload, nil
}

// writeOptionReply writes a generic option reply: magic(8) + option(4) +
// reply type(4) + length(4) + payload.
func writeOptionReply(w io.Writer, opt uint32, replyType uint32, payload []byte) error {
	buf := make([]byte, 8+4+4+4+len(payload))
	binary.BigEndian.PutUint64(buf[0:8], optionReplyMagic)
	binary.BigEndian.PutUint32(buf[8:12], opt)
	binary.BigEndian.PutUint32(buf[12:16], replyType)
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(payload)))
	copy(buf[20:], payload)
	_, err := w.Write(buf)
	return err
}

// writeExportItem writes the final NBD_OPT_EXPORT_NAME success reply: the
// 8-byte export size, the 2-byte transmission flags, and 124 bytes of
// zero padding (NBD_FLAG_NO_ZEROES is never negotiated).
func writeExportItem(w io.Writer, size int64) error {
	buf := make([]byte, 8+2+124)
	binary.BigEndian.PutUint64(buf[0:8], uint64(size))
	binary.BigEndian.PutUint16(buf[8:10], exportTransmissionFlags)
	_, err := w.Write(buf)
	return err
}
