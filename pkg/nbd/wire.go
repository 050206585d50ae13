// Package nbd implements component E: the NBD handshake and transmission
// loop. Frames are fixed-layout big-endian structures, decoded by hand with
// encoding/binary — NBD has no XDR or protobuf encoding of its own.
package nbd

import "encoding/binary"

// Handshake magics (newstyle negotiation, fixed newstyle).
const (
	nbdMagic      uint64 = 0x4e42444d41474943
	iHaveOptMagic uint64 = 0x49484156454f5054

	// simpleReplyMagic tags every transmission-phase reply this server
	// sends; it never negotiates structured replies.
	simpleReplyMagic uint32 = 0x67446698

	// optionReplyMagic tags every handshake-phase option reply.
	optionReplyMagic uint64 = 0x3e889045565a9

	// handshakeFlagFixedNewstyle is the only server handshake flag this
	// implementation advertises.
	handshakeFlagFixedNewstyle uint16 = 1 << 0
	// clientFlagFixedNewstyle is the matching client acknowledgement this
	// server requires before continuing option negotiation.
	clientFlagFixedNewstyle uint32 = 1 << 0
)

// Client options (NBD_OPT_*).
const (
	optExportName uint32 = 1
	optAbort      uint32 = 2
	optList       uint32 = 3
	optInfo       uint32 = 6
	optGo         uint32 = 7
)

// Option reply types (NBD_REP_*).
const (
	repAck         uint32 = 1
	repErrUnsup    uint32 = 0x80000001
	repErrInvalid  uint32 = 0x80000003
)

// Transmission-phase flags advertised in the export item sent at the end of
// a successful NBD_OPT_EXPORT_NAME negotiation.
const (
	flagHasFlags  uint16 = 1 << 0
	flagSendFlush uint16 = 1 << 2
	flagSendFua   uint16 = 1 << 3
)

// exportTransmissionFlags is HAS_FLAGS | SEND_FLUSH | SEND_FUA: this server
// supports flush and per-write force-unit-access, nothing more exotic.
const exportTransmissionFlags = flagHasFlags | flagSendFlush | flagSendFua

// Request magic and command dispatch (NBD_CMD_*).
const (
	requestMagic uint32 = 0x25609513

	cmdRead  uint16 = 0
	cmdWrite uint16 = 1
	cmdDisc  uint16 = 2
	cmdFlush uint16 = 3
)

// commandFlagFUA requests the write be durable before the reply is sent.
const commandFlagFUA uint16 = 1 << 0

// NBD error codes, returned in the simple-reply header's error field.
const (
	errPerm    uint32 = 1
	errIO      uint32 = 5
	errNoMem   uint32 = 12
	errInval   uint32 = 22
	errNoSpace uint32 = 28
	errOverflow uint32 = 75
	errNotSupp uint32 = 95
	errShutdown uint32 = 108
)

// requestHeaderSize is the fixed 28-byte request header: magic(4) +
// flags(2) + type(2) + cookie(8) + offset(8) + length(4).
const requestHeaderSize = 28

// simpleReplyHeaderSize is the fixed 16-byte simple-reply header: magic(4) +
// error(4) + cookie(8).
const simpleReplyHeaderSize = 16

// request is one decoded NBD transmission-phase request.
type request struct {
	flags  uint16
	typ    uint16
	cookie uint64
	offset uint64
	length uint32
}

// decodeRequest parses a requestHeaderSize-byte buffer into a request.
func decodeRequest(buf []byte) (request, bool) {
	if len(buf) < requestHeaderSize {
		return request{}, false
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != requestMagic {
		return request{}, false
	}
	return request{
		flags:  binary.BigEndian.Uint16(buf[4:6]),
		typ:    binary.BigEndian.Uint16(buf[6:8]),
		cookie: binary.BigEndian.Uint64(buf[8:16]),
		offset: binary.BigEndian.Uint64(buf[16:24]),
		length: binary.BigEndian.Uint32(buf[24:28]),
	}, true
}

// encodeSimpleReplyHeader writes the fixed simple-reply header for cookie
// with the given NBD error code (0 for success).
func encodeSimpleReplyHeader(cookie uint64, errCode uint32) []byte {
	buf := make([]byte, simpleReplyHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], simpleReplyMagic)
	binary.BigEndian.PutUint32(buf[4:8], errCode)
	binary.BigEndian.PutUint64(buf[8:16], cookie)
	return buf
}
