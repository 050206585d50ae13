package nbd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/marmos91/cloudnbd/internal/logger"
	"github.com/marmos91/cloudnbd/internal/telemetry"
	"github.com/marmos91/cloudnbd/pkg/export"
	"github.com/marmos91/cloudnbd/pkg/provider"
)

// Session runs the transmission phase for one connection against the export
// selected during Handshake. One Session exists per connection; its
// requests are processed strictly one at a time (no pipelining), matching
// the protocol's wire ordering guarantee.
type Session struct {
	conn   io.ReadWriter
	handle *export.Handle
	connID string
	metrics Metrics
}

// NewSession builds a transmission-phase session over conn against handle.
func NewSession(conn io.ReadWriter, handle *export.Handle, metrics Metrics) *Session {
	return &Session{
		conn:    conn,
		handle:  handle,
		connID:  uuid.NewString(),
		metrics: metrics,
	}
}

// Run processes requests until NBD_CMD_DISC, EOF, or a framing error. It
// acquires the export's handle for its entire duration — per the
// concurrency model, one connection holds exclusive use of a provider for
// its whole transmission phase, not per request.
func (s *Session) Run(ctx context.Context) error {
	p, release := s.handle.Acquire()
	defer release()

	lc := logger.NewLogContext("").WithConnID(s.connID).WithShare(s.handle.Name)
	ctx = logger.WithContext(ctx, lc)
	logger.InfoCtx(ctx, "nbd session started")
	defer logger.InfoCtx(ctx, "nbd session ended")

	for {
		if err := s.handleOne(ctx, p); err != nil {
			if errors.Is(err, errDisconnect) {
				return nil
			}
			return err
		}
	}
}

var errDisconnect = errors.New("nbd: client requested disconnect")

func (s *Session) handleOne(ctx context.Context, p provider.Provider) error {
	header := make([]byte, requestHeaderSize)
	if _, err := io.ReadFull(s.conn, header); err != nil {
		if errors.Is(err, io.EOF) {
			return errDisconnect
		}
		return fmt.Errorf("nbd: read request header: %w", err)
	}

	req, ok := decodeRequest(header)
	if !ok {
		return fmt.Errorf("nbd: malformed request header")
	}

	ctx, span := telemetry.StartSpan(ctx, "nbd.request")
	defer span.End()

	switch req.typ {
	case cmdRead:
		return s.handleRead(ctx, p, req)
	case cmdWrite:
		return s.handleWrite(ctx, p, req)
	case cmdFlush:
		return s.handleFlush(ctx, p, req)
	case cmdDisc:
		if err := s.reply(req.cookie, 0); err != nil {
			return err
		}
		return errDisconnect
	default:
		return s.reply(req.cookie, errNotSupp)
	}
}

func (s *Session) handleRead(ctx context.Context, p provider.Provider, req request) error {
	if req.length == 0 {
		recordError(s.metrics, "read")
		return s.reply(req.cookie, errInval)
	}

	if err := validateBounds(p, req); err != nil {
		recordError(s.metrics, "read")
		return s.reply(req.cookie, mapError(err))
	}

	buf := make([]byte, req.length)
	if err := p.ReadAt(ctx, buf, int64(req.offset)); err != nil {
		recordError(s.metrics, "read")
		return s.reply(req.cookie, mapError(err))
	}

	recordRequest(s.metrics, "read", int64(req.length))
	if err := s.replyHeader(req.cookie, 0); err != nil {
		return err
	}
	_, err := s.conn.Write(buf)
	return err
}

func (s *Session) handleWrite(ctx context.Context, p provider.Provider, req request) error {
	buf := make([]byte, req.length)
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		return fmt.Errorf("nbd: read write payload: %w", err)
	}

	if req.length == 0 {
		recordError(s.metrics, "write")
		return s.reply(req.cookie, errInval)
	}

	if err := validateBounds(p, req); err != nil {
		recordError(s.metrics, "write")
		return s.reply(req.cookie, mapWriteBoundsError(err))
	}

	// FUA must be tested as a nonzero bitwise AND, not OR: a request
	// carrying any other flag bit alongside FUA must not be mistaken for
	// an FUA request, and a request carrying only FUA must not be missed.
	fua := req.flags&commandFlagFUA != 0

	if err := p.WriteAt(ctx, buf, int64(req.offset), fua); err != nil {
		recordError(s.metrics, "write")
		return s.reply(req.cookie, mapError(err))
	}

	recordRequest(s.metrics, "write", int64(req.length))
	return s.reply(req.cookie, 0)
}

func (s *Session) handleFlush(ctx context.Context, p provider.Provider, req request) error {
	if err := p.Flush(ctx); err != nil {
		recordError(s.metrics, "flush")
		return s.reply(req.cookie, mapError(err))
	}
	recordRequest(s.metrics, "flush", 0)
	return s.reply(req.cookie, 0)
}

func (s *Session) reply(cookie uint64, errCode uint32) error {
	return s.replyHeader(cookie, errCode)
}

func (s *Session) replyHeader(cookie uint64, errCode uint32) error {
	_, err := s.conn.Write(encodeSimpleReplyHeader(cookie, errCode))
	return err
}

// validateBounds checks a request's offset/length against the provider's
// total size and block alignment before the provider itself is touched, so
// a bad request maps to NBD_EINVAL (or NBD_ENOSPC for an out-of-range
// WRITE) rather than whatever error the provider happens to return.
func validateBounds(p provider.Provider, req request) error {
	return provider.BoundAndAlignCheck(p.BlockSize(), p.TotalSize(), int64(req.offset), int64(req.length))
}

// mapError translates a provider-layer error into an NBD wire error code.
func mapError(err error) uint32 {
	switch {
	case errors.Is(err, provider.ErrUnaligned), errors.Is(err, provider.ErrOutOfRange):
		return errInval
	case errors.Is(err, provider.ErrUnavailable):
		return errIO
	default:
		return errIO
	}
}

// mapWriteBoundsError is mapError's WRITE-path counterpart: a write whose
// range runs past the export's total size means there is nowhere to put
// the data, so it replies NBD_ENOSPC rather than the NBD_EINVAL every other
// bounds failure (bad alignment) maps to.
func mapWriteBoundsError(err error) uint32 {
	if errors.Is(err, provider.ErrOutOfRange) {
		return errNoSpace
	}
	return mapError(err)
}
