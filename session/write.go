package session

import (
	"context"
	"errors"
	"time"

	"github.com/zsiec/srtsession/params"
	"github.com/zsiec/srtsession/transport"
)

// Write sends headers (once per connection) followed by payload, split into
// messages of the socket's payload size.
//
// In listener mode the payload is fanned out to every registered caller;
// a caller that fails is removed and announced, and the call still returns
// len(payload). Otherwise the single peer is written and, with
// auto-reconnect, a broken connection is reopened and the write resumed.
// With wait-for-connection disabled, a payload written while still
// connecting is dropped and reported as written. Headers are dropped with
// it and go out with the first write after the connection is up.
//
// It returns (0, nil) when the session is flushing. Cancelling ctx returns
// ctx.Err().
func (s *Session) Write(parent context.Context, headers [][]byte, payload []byte) (int, error) {
	if s.role != RoleSink {
		return 0, newError(KindBadState, nil, "write on a %s session", s.role)
	}
	p := s.policy()
	ctx, stop := s.ioContext(parent)
	defer stop()

	if p.mode == params.ModeListener {
		if p.waitForConnection && s.firstCaller(ctx) == nil {
			return s.interrupted(parent)
		}
		if !s.writeToCallers(ctx, headers, payload) {
			return s.interrupted(parent)
		}
		return len(payload), nil
	}

	written := 0
	for {
		err := s.writeOnce(ctx, p, headers, payload, &written)
		if err == nil {
			return written, nil
		}
		if ctx.Err() != nil {
			return s.interrupted(parent)
		}
		if !p.autoReconnect || !reconnectable(err) {
			return 0, err
		}

		s.log.Warn("error sending, reconnecting", "error", err)
		s.closeInternal()
		if err := s.openInternal(ctx); err != nil {
			if ctx.Err() != nil {
				return s.interrupted(parent)
			}
			return 0, err
		}
	}
}

// writeToCallers fans payload out to the registry. It reports false if
// cancelled part way.
func (s *Session) writeToCallers(ctx context.Context, headers [][]byte, payload []byte) bool {
	s.regMu.Lock()
	var (
		kept   = make([]*Caller, 0, len(s.callers))
		failed []*Caller
		ok     = true
	)
	for i, c := range s.callers {
		if ctx.Err() != nil {
			kept = append(kept, s.callers[i:]...)
			ok = false
			break
		}
		if err := s.sendToCaller(c, headers, payload); err != nil {
			s.log.Warn("dropping caller", "addr", transport.AddrString(c.addr), "error", err)
			failed = append(failed, c)
			continue
		}
		kept = append(kept, c)
	}
	s.callers = kept
	s.regMu.Unlock()

	s.dropCallers(failed)
	return ok
}

// sendToCaller writes without waiting for readiness. Callers hold regMu.
func (s *Session) sendToCaller(c *Caller, headers [][]byte, payload []byte) error {
	if !c.sentHeaders {
		for _, h := range headers {
			n, err := s.tr.Send(c.sock, h)
			if err != nil {
				return newError(KindResourceWrite, err, "failed to send header")
			}
			s.bytes.Add(uint64(n))
		}
		c.sentHeaders = true
	}

	size, err := s.payloadSize(c.sock)
	if err != nil {
		return err
	}
	for off := 0; off < len(payload); {
		end := min(off+size, len(payload))
		n, err := s.tr.Send(c.sock, payload[off:end])
		if err != nil {
			return newError(KindResourceWrite, err, "failed to send")
		}
		off += n
		s.bytes.Add(uint64(n))
	}
	return nil
}

func (s *Session) payloadSize(sock transport.SocketID) (int, error) {
	v, err := s.tr.Option(sock, transport.OptPayloadSize)
	if err != nil {
		return 0, newError(KindResourceWrite, err, "failed to get %s", transport.OptPayloadSize)
	}
	size, ok := v.(int)
	if !ok || size <= 0 {
		return 0, newError(KindResourceWrite, nil, "invalid %s %v", transport.OptPayloadSize, v)
	}
	return size, nil
}

// writeOnce writes to the primary socket, advancing *written so a retry
// after reconnecting resumes where this attempt stopped.
func (s *Session) writeOnce(ctx context.Context, p ioPolicy, headers [][]byte, payload []byte, written *int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.regMu.Lock()
	sock, sent := s.sock, s.sentHeaders
	s.regMu.Unlock()

	if !sent {
		if !p.waitForConnection && s.tr.State(sock) == transport.StateConnecting {
			s.log.Debug("not connected yet, dropping headers and buffer", "size", len(payload)-*written)
			*written = len(payload)
			return nil
		}
		if err := s.sendHeaders(ctx, sock, headers, p.pollTimeout); err != nil {
			return err
		}
		s.regMu.Lock()
		s.sentHeaders = true
		s.regMu.Unlock()
	}

	for *written < len(payload) {
		if err := ctx.Err(); err != nil {
			return err
		}
		st := s.tr.State(sock)
		if st.Dead() {
			return s.brokenError(sock, KindResourceWrite)
		}
		notWaiting := st == transport.StateConnecting && !p.waitForConnection
		timeout := p.pollTimeout
		if notWaiting {
			timeout = 0
		}

		ready, err := s.poller.Wait(ctx, timeout)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, transport.ErrTimeout) {
			return newError(KindResourceWrite, err, "failed to poll socket")
		}
		if notWaiting {
			s.log.Debug("not connected yet, dropping buffer", "size", len(payload)-*written)
			*written = len(payload)
			return nil
		}
		if err != nil || !ready.Writable(sock) {
			continue
		}
		if ready.Readable(sock) {
			return rejectError(s.tr.RejectReason(sock), KindResourceWrite)
		}

		size, err := s.payloadSize(sock)
		if err != nil {
			return err
		}
		end := min(*written+size, len(payload))
		n, err := s.tr.Send(sock, payload[*written:end])
		if errors.Is(err, transport.ErrWouldBlock) {
			continue
		}
		if err != nil {
			return newError(KindResourceWrite, err, "failed to send")
		}
		*written += n
		s.bytes.Add(uint64(n))
	}
	return nil
}

// sendHeaders writes each header once the socket is writable. A poll
// timeout retries the same header.
func (s *Session) sendHeaders(ctx context.Context, sock transport.SocketID, headers [][]byte, pollTimeout time.Duration) error {
	for i := 0; i < len(headers); {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.tr.State(sock).Dead() {
			return s.brokenError(sock, KindResourceWrite)
		}
		ready, err := s.poller.Wait(ctx, pollTimeout)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			return newError(KindResourceWrite, err, "failed to poll socket")
		}
		if !ready.Writable(sock) {
			continue
		}
		if ready.Readable(sock) {
			return rejectError(s.tr.RejectReason(sock), KindResourceWrite)
		}

		n, err := s.tr.Send(sock, headers[i])
		if errors.Is(err, transport.ErrWouldBlock) {
			continue
		}
		if err != nil {
			return newError(KindResourceWrite, err, "failed to send header")
		}
		s.bytes.Add(uint64(n))
		i++
	}
	return nil
}
