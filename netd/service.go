package netd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/tetherbpf/tetherbpf/fdpass"
	"github.com/tetherbpf/tetherbpf/metrics"
)

// Control protocol: one JSON document per SOCK_SEQPACKET packet. The
// socket being tagged rides the request packet's ancillary data and
// the caller's uid comes from SO_PEERCRED, so neither can be forged
// by the request body.

const (
	opTag   = "tag"
	opUntag = "untag"
	opCount = "count"
)

// maxControlPacket bounds a control packet. Requests and responses
// are single small JSON documents.
const maxControlPacket = 4096

type controlRequest struct {
	Op  string `json:"op"`
	Tag uint32 `json:"tag,omitempty"`

	// ChargeUid is the uid to charge. Absent means charge the
	// caller. A pointer because uid 0 is a valid explicit choice.
	ChargeUid *uint32 `json:"charge_uid,omitempty"`
}

// controlResponse mirrors the native entry points: Rc is 0 on
// success, a negated errno otherwise. Err carries the errno text for
// humans; programs switch on Rc.
type controlResponse struct {
	Rc    int32  `json:"rc"`
	Err   string `json:"error,omitempty"`
	Count int    `json:"count,omitempty"`
}

// wireRC converts err to the wire result code: 0 for nil, otherwise
// the negated errno from err's chain. Errors carrying no errno
// report EIO.
func wireRC(err error) int32 {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		errno = unix.EIO
	}
	return -int32(errno)
}

// resultLabel renders err as a metrics label: "ok" or the lowercase
// errno name.
func resultLabel(err error) string {
	if err == nil {
		return metrics.ResultOK
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		errno = unix.EIO
	}
	name := unix.ErrnoName(errno)
	if name == "" {
		return "unknown"
	}
	return strings.ToLower(name)
}

func errnoResponse(err error) controlResponse {
	rc := wireRC(err)
	if rc == 0 {
		return controlResponse{}
	}
	return controlResponse{Rc: rc, Err: unix.Errno(-rc).Error()}
}

// Service exposes the handler's tagging operations on a unix socket.
type Service struct {
	handler *Handler
	metrics *metrics.Metrics
	log     *slog.Logger

	mu sync.Mutex
	ln *net.UnixListener
	wg sync.WaitGroup

	// failLog keeps per-request failure logging off the hot path:
	// tagging happens on every app socket under some workloads.
	failLog rate.Sometimes
}

// NewService wires the control service. metrics must be non-nil.
func NewService(handler *Handler, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		handler: handler,
		metrics: m,
		log:     log.With("component", "netd"),
		failLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Serve listens on path and serves control connections until ctx is
// cancelled or Close is called. A stale socket file from a previous
// run is removed first. The socket is made world-connectable; peer
// credentials, not filesystem permissions, are the authentication
// boundary.
func (s *Service) Serve(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale control socket: %w", err)
	}

	ln, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.log.Info("control service listening", "path", path)
	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Close stops accepting new connections. In-flight requests finish.
func (s *Service) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (s *Service) serveConn(conn *net.UnixConn) {
	defer conn.Close()

	cred, err := fdpass.PeerCred(conn)
	if err != nil {
		s.log.Warn("rejecting control connection without peer credentials", "error", err)
		return
	}
	log := s.log.With("peer_uid", cred.Uid, "peer_pid", cred.Pid)

	buf := make([]byte, maxControlPacket)
	for {
		n, fds, err := fdpass.Recv(conn, buf, 1)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.failLog.Do(func() { log.Warn("control read failed", "error", err) })
			}
			return
		}

		resp := s.handle(log, cred, buf[:n], fds)
		for _, fd := range fds {
			unix.Close(fd)
		}

		out, err := json.Marshal(resp)
		if err != nil {
			log.Error("marshal control response", "error", err)
			return
		}
		if err := fdpass.Send(conn, out); err != nil {
			s.failLog.Do(func() { log.Warn("control write failed", "error", err) })
			return
		}
	}
}

func (s *Service) handle(log *slog.Logger, cred *unix.Ucred, data []byte, fds []int) controlResponse {
	var req controlRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errnoResponse(unix.EINVAL)
	}

	switch req.Op {
	case opTag:
		if len(fds) != 1 {
			return errnoResponse(unix.EBADF)
		}
		chargeUid := cred.Uid
		if req.ChargeUid != nil {
			chargeUid = *req.ChargeUid
		}
		err := s.handler.TagSocket(fds[0], req.Tag, chargeUid, cred.Uid)
		s.metrics.TagRequests.WithLabelValues(resultLabel(err)).Inc()
		if errors.Is(err, unix.EMFILE) {
			s.metrics.CeilingRejections.Inc()
		}
		if err != nil {
			s.failLog.Do(func() {
				log.Warn("tag socket failed", "tag", req.Tag, "charge_uid", chargeUid, "error", err)
			})
		}
		return errnoResponse(err)

	case opUntag:
		if len(fds) != 1 {
			return errnoResponse(unix.EBADF)
		}
		err := s.handler.UntagSocket(fds[0])
		s.metrics.UntagRequests.WithLabelValues(resultLabel(err)).Inc()
		if err != nil {
			s.failLog.Do(func() { log.Warn("untag socket failed", "error", err) })
		}
		return errnoResponse(err)

	case opCount:
		n, err := s.handler.TaggedSocketCount()
		if err != nil {
			return errnoResponse(err)
		}
		return controlResponse{Count: n}

	default:
		return errnoResponse(unix.EOPNOTSUPP)
	}
}
