package main

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"kvnode/internal/cluster"
	"kvnode/internal/replication"
)

// The replication/election wire protocol (APPEND/APPEND_ACK,
// VOTE_REQUEST/VOTE_RESPONSE, HEARTBEAT, and a single-frame SNAPSHOT carrying
// the whole state) reuses the client port's length-prefixed framing, with a
// tag byte selecting which gob-encoded message follows. gob is a reasonable fit here since
// these are internal Go-to-Go control messages, not a public wire format
// clients ever parse — that's reserved for the binary tag table in
// internal/server.
type replTag byte

const (
	tagVoteRequest replTag = iota
	tagVoteResponse
	tagHeartbeat
	tagHeartbeatAck
	tagAppend
	tagAppendResponse
	tagSnapshot
)

const replDialTimeout = 2 * time.Second

func readReplFrame(r io.Reader) (replTag, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return 0, nil, err
	}
	payload := make([]byte, n-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return replTag(tagBuf[0]), payload, nil
}

func writeReplFrame(w io.Writer, tag replTag, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)+1))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(tag)}); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func gobEncode(v any) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic(fmt.Sprintf("replwire: encode %T: %v", v, err))
	}
	return buf.Bytes()
}

func gobDecode[T any](payload []byte) (T, error) {
	var v T
	err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&v)
	return v, err
}

// wireTransport implements both cluster.Transport and replication.Transport
// by dialing the peer's replication address fresh for every call. This is
// adequate at election/heartbeat/replication rates; a connection-pooling
// transport would be the natural next step under sustained high write load.
type wireTransport struct {
	membership *cluster.Membership
}

func newWireTransport(m *cluster.Membership) *wireTransport {
	return &wireTransport{membership: m}
}

func (t *wireTransport) dial(peerID string) (net.Conn, error) {
	peer, ok := t.membership.Get(peerID)
	if !ok {
		return nil, fmt.Errorf("unknown peer %q", peerID)
	}
	return net.DialTimeout("tcp", peer.ReplAddr, replDialTimeout)
}

func (t *wireTransport) SendVoteRequest(peerID string, req cluster.VoteRequest) (cluster.VoteResponse, error) {
	conn, err := t.dial(peerID)
	if err != nil {
		return cluster.VoteResponse{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(replDialTimeout))

	if err := writeReplFrame(conn, tagVoteRequest, gobEncode(req)); err != nil {
		return cluster.VoteResponse{}, err
	}
	_, payload, err := readReplFrame(conn)
	if err != nil {
		return cluster.VoteResponse{}, err
	}
	return gobDecode[cluster.VoteResponse](payload)
}

func (t *wireTransport) SendHeartbeat(peerID string, hb cluster.Heartbeat) (cluster.HeartbeatAck, error) {
	conn, err := t.dial(peerID)
	if err != nil {
		return cluster.HeartbeatAck{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(replDialTimeout))

	if err := writeReplFrame(conn, tagHeartbeat, gobEncode(hb)); err != nil {
		return cluster.HeartbeatAck{}, err
	}
	_, payload, err := readReplFrame(conn)
	if err != nil {
		return cluster.HeartbeatAck{}, err
	}
	return gobDecode[cluster.HeartbeatAck](payload)
}

func (t *wireTransport) SendAppend(peerID string, req replication.AppendRequest) (replication.AppendResponse, error) {
	conn, err := t.dial(peerID)
	if err != nil {
		return replication.AppendResponse{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(replDialTimeout))

	if err := writeReplFrame(conn, tagAppend, gobEncode(req)); err != nil {
		return replication.AppendResponse{}, err
	}
	_, payload, err := readReplFrame(conn)
	if err != nil {
		return replication.AppendResponse{}, err
	}
	return gobDecode[replication.AppendResponse](payload)
}

func (t *wireTransport) SendSnapshot(peerID string, snap replication.Snapshot) error {
	conn, err := t.dial(peerID)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	if err := writeReplFrame(conn, tagSnapshot, gobEncode(snap)); err != nil {
		return err
	}
	_, _, err = readReplFrame(conn) // ack frame, content unused
	return err
}

// replServer accepts replication/election connections and dispatches each
// single-message request to the election or follower apply path.
type replServer struct {
	addr     string
	election *cluster.Election
	follower *replication.Follower
	log      zerolog.Logger
	listener net.Listener
}

func newReplServer(addr string, election *cluster.Election, follower *replication.Follower, log zerolog.Logger) *replServer {
	return &replServer{addr: addr, election: election, follower: follower, log: log}
}

func (s *replServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		go s.handle(conn)
	}
}

func (s *replServer) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *replServer) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	tag, payload, err := readReplFrame(conn)
	if err != nil {
		return
	}

	switch tag {
	case tagVoteRequest:
		req, err := gobDecode[cluster.VoteRequest](payload)
		if err != nil {
			return
		}
		resp := s.election.HandleVoteRequest(req)
		writeReplFrame(conn, tagVoteResponse, gobEncode(resp))

	case tagHeartbeat:
		hb, err := gobDecode[cluster.Heartbeat](payload)
		if err != nil {
			return
		}
		ack := s.election.HandleHeartbeat(hb)
		writeReplFrame(conn, tagHeartbeatAck, gobEncode(ack))

	case tagAppend:
		req, err := gobDecode[replication.AppendRequest](payload)
		if err != nil {
			return
		}
		resp := s.follower.HandleAppend(req)
		writeReplFrame(conn, tagAppendResponse, gobEncode(resp))

	case tagSnapshot:
		snap, err := gobDecode[replication.Snapshot](payload)
		if err != nil {
			return
		}
		success := s.follower.HandleSnapshot(snap) == nil
		writeReplFrame(conn, tagAppendResponse, gobEncode(replication.AppendResponse{Success: success}))

	default:
		s.log.Warn().Uint8("tag", uint8(tag)).Msg("unknown replication message tag")
	}
}
