package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// readTimeout bounds how long a connection may sit idle between frames
// before the server gives up on it.
const readTimeout = 5 * time.Minute

// Server is the client-facing TCP listener: one goroutine per connection,
// each running a read-dispatch-write loop over the binary wire protocol
// (spec §6).
type Server struct {
	addr   string
	router *Router
	log    zerolog.Logger

	listener net.Listener
}

// New constructs a Server bound to addr, dispatching through router.
func New(addr string, router *Router, log zerolog.Logger) *Server {
	return &Server{addr: addr, router: router, log: log}
}

// ListenAndServe opens the listener and accepts connections until Close is
// called, at which point the accept loop returns net.ErrClosed and this
// method returns nil.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if isClosedConnErr(err) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		payload, err := readFrame(conn)
		if err != nil {
			if !isClosedConnErr(err) {
				s.log.Debug().Err(err).Str("remote", remote).Msg("client connection closed")
			}
			return
		}

		resp, err := s.dispatch(payload)
		if err != nil {
			s.log.Warn().Err(err).Str("remote", remote).Msg("malformed request")
			resp = encodeStatus(StatusMalformed)
		}

		if err := writeFrame(conn, resp); err != nil {
			s.log.Debug().Err(err).Str("remote", remote).Msg("write failed, closing connection")
			return
		}
	}
}

// dispatch decodes the tag byte and request body, invokes the matching
// Router method, and returns the encoded response payload.
func (s *Server) dispatch(payload []byte) ([]byte, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("empty request")
	}
	tag := payload[0]
	body := payload[1:]

	switch tag {
	case TagSet:
		req, err := decodeSetRequest(body)
		if err != nil {
			return nil, err
		}
		return s.router.Set(req), nil

	case TagGet:
		req, err := decodeGetRequest(body)
		if err != nil {
			return nil, err
		}
		return s.router.Get(req), nil

	case TagDelete:
		req, err := decodeDeleteRequest(body)
		if err != nil {
			return nil, err
		}
		return s.router.Delete(req), nil

	case TagBulkSet:
		req, err := decodeBulkSetRequest(body)
		if err != nil {
			return nil, err
		}
		return s.router.BulkSet(req), nil

	case TagSearch:
		req, err := decodeSearchRequest(body)
		if err != nil {
			return nil, err
		}
		return s.router.Search(req), nil

	case TagSemSearch:
		req, err := decodeSemSearchRequest(body)
		if err != nil {
			return nil, err
		}
		return s.router.SemSearch(req), nil

	default:
		return nil, fmt.Errorf("unknown request tag 0x%02x", tag)
	}
}

func isClosedConnErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
