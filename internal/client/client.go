// Package client is a minimal Go SDK over the node's binary wire protocol
// (spec §6). It intentionally stays thin: one connection, one request in
// flight at a time, the same shape as the teacher's HTTP client but
// speaking length-prefixed binary frames instead of JSON-over-HTTP.
package client

import (
	"fmt"
	"net"
	"time"

	"kvnode/internal/index"
	"kvnode/internal/server"
)

// Client is a connection to one node's client port.
type Client struct {
	conn    net.Conn
	timeout time.Duration
}

// Dial opens a connection to addr.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) roundTrip(payload []byte) ([]byte, error) {
	c.conn.SetDeadline(time.Now().Add(c.timeout))
	if err := writeFrame(c.conn, payload); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	resp, err := readFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// NotPrimaryErr is returned when the contacted node is a FOLLOWER; Leader
// is the hint it returned (may be empty).
type NotPrimaryErr struct{ Leader string }

func (e *NotPrimaryErr) Error() string {
	if e.Leader == "" {
		return "kvnode: not primary"
	}
	return "kvnode: not primary, try " + e.Leader
}

// Set stores key/value.
func (c *Client) Set(key string, value []byte) error {
	body := append([]byte{server.TagSet}, encodeU32(uint32(len(key)))...)
	body = append(body, key...)
	body = append(body, encodeU32(uint32(len(value)))...)
	body = append(body, value...)

	resp, err := c.roundTrip(body)
	if err != nil {
		return err
	}
	return statusError(resp)
}

// Get fetches key. ok is false if the key is absent.
func (c *Client) Get(key string) (value []byte, ok bool, err error) {
	body := append([]byte{server.TagGet}, encodeU32(uint32(len(key)))...)
	body = append(body, key...)

	resp, err := c.roundTrip(body)
	if err != nil {
		return nil, false, err
	}
	if len(resp) < 1 {
		return nil, false, fmt.Errorf("malformed GET response")
	}
	if resp[0] == 0 {
		return nil, false, nil
	}
	if len(resp) < 5 {
		return nil, false, fmt.Errorf("truncated GET response")
	}
	vlen := decodeU32(resp[1:5])
	if len(resp) < 5+int(vlen) {
		return nil, false, fmt.Errorf("truncated GET value")
	}
	return resp[5 : 5+vlen], true, nil
}

// Delete removes key. existed reports whether it was present beforehand.
func (c *Client) Delete(key string) (existed bool, err error) {
	body := append([]byte{server.TagDelete}, encodeU32(uint32(len(key)))...)
	body = append(body, key...)

	resp, err := c.roundTrip(body)
	if err != nil {
		return false, err
	}
	if len(resp) < 2 {
		return false, fmt.Errorf("malformed DELETE response")
	}
	if err := statusError(resp); err != nil {
		return false, err
	}
	return resp[1] == 1, nil
}

// KV is one key/value pair for BulkSet.
type KV struct {
	Key   string
	Value []byte
}

// BulkSet writes every pair atomically (spec §4.1).
func (c *Client) BulkSet(pairs []KV) error {
	body := append([]byte{server.TagBulkSet}, encodeU32(uint32(len(pairs)))...)
	for _, p := range pairs {
		body = append(body, encodeU32(uint32(len(p.Key)))...)
		body = append(body, p.Key...)
		body = append(body, encodeU32(uint32(len(p.Value)))...)
		body = append(body, p.Value...)
	}

	resp, err := c.roundTrip(body)
	if err != nil {
		return err
	}
	return statusError(resp)
}

// SearchMode selects AND/OR combination for Search.
type SearchMode = index.Mode

// Search runs an exact token search.
func (c *Client) Search(query string, mode SearchMode) ([]string, error) {
	wireMode := server.WireModeAND
	if mode == index.ModeOR {
		wireMode = server.WireModeOR
	}
	body := []byte{server.TagSearch, wireMode}
	body = append(body, encodeU32(uint32(len(query)))...)
	body = append(body, query...)

	resp, err := c.roundTrip(body)
	if err != nil {
		return nil, err
	}
	return decodeKeyList(resp)
}

// ScoredKey is one semantic-search result.
type ScoredKey struct {
	Key   string
	Score float32
}

// SemSearch runs an n-gram/Jaccard semantic search.
func (c *Client) SemSearch(query string, k uint32, threshold float32) ([]ScoredKey, error) {
	body := append([]byte{server.TagSemSearch}, encodeU32(k)...)
	f32 := make([]byte, 4)
	encodeF32(f32, threshold)
	body = append(body, f32...)
	body = append(body, encodeU32(uint32(len(query)))...)
	body = append(body, query...)

	resp, err := c.roundTrip(body)
	if err != nil {
		return nil, err
	}
	return decodeScoredList(resp)
}

func statusError(resp []byte) error {
	if len(resp) < 1 {
		return fmt.Errorf("empty status response")
	}
	switch resp[0] {
	case server.StatusOK:
		return nil
	case server.StatusNotPrimary:
		hint := ""
		if len(resp) >= 5 {
			hlen := decodeU32(resp[1:5])
			if len(resp) >= 5+int(hlen) {
				hint = string(resp[5 : 5+hlen])
			}
		}
		return &NotPrimaryErr{Leader: hint}
	case server.StatusIOError:
		return fmt.Errorf("kvnode: io error")
	default:
		return fmt.Errorf("kvnode: malformed request")
	}
}
