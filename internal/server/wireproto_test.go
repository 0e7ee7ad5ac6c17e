package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetRequestRoundTrip(t *testing.T) {
	req := SetRequest{Key: "hello", Value: []byte("world")}
	encoded := encodeSetRequestForTest(req)

	got, err := decodeSetRequest(encoded)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestGetRequestRoundTrip(t *testing.T) {
	encoded := append(encodeU32(3), []byte("abc")...)
	got, err := decodeGetRequest(encoded)
	require.NoError(t, err)
	assert.Equal(t, GetRequest{Key: "abc"}, got)
}

func TestBulkSetRequestRoundTrip(t *testing.T) {
	pairs := []SetRequest{{Key: "x", Value: []byte("1")}, {Key: "y", Value: []byte("22")}}
	encoded := encodeBulkSetRequestForTest(pairs)

	got, err := decodeBulkSetRequest(encoded)
	require.NoError(t, err)
	assert.Equal(t, pairs, got.Pairs)
}

func TestSearchRequestRoundTrip(t *testing.T) {
	body := append([]byte{WireModeOR}, encodeU32(5)...)
	body = append(body, []byte("quick")...)

	got, err := decodeSearchRequest(body)
	require.NoError(t, err)
	assert.Equal(t, SearchRequest{Mode: WireModeOR, Query: "quick"}, got)
}

func TestSemSearchRequestRoundTrip(t *testing.T) {
	body := encodeU32(5)
	f32 := make([]byte, 4)
	encodeF32Into(f32, 0.25)
	body = append(body, f32...)
	body = append(body, encodeU32(5)...)
	body = append(body, []byte("hello")...)

	got, err := decodeSemSearchRequest(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.K)
	assert.InDelta(t, 0.25, got.Threshold, 0.0001)
	assert.Equal(t, "hello", got.Query)
}

func TestEncodeValuePresentAndAbsent(t *testing.T) {
	present := encodeValue(true, []byte("v"))
	assert.Equal(t, byte(1), present[0])

	absent := encodeValue(false, nil)
	assert.Equal(t, []byte{0}, absent)
}

func TestEncodeKeyListAndScoredList(t *testing.T) {
	kl := encodeKeyList([]string{"a", "bb"})
	assert.NotEmpty(t, kl)

	sl := encodeScoredList([]scored{{Key: "a", Score: 0.5}})
	assert.NotEmpty(t, sl)
}

// test-only encoders mirroring what a real client would send, used to
// exercise the decoder side without a live connection.

func encodeSetRequestForTest(req SetRequest) []byte {
	out := encodeU32(uint32(len(req.Key)))
	out = append(out, []byte(req.Key)...)
	out = append(out, encodeU32(uint32(len(req.Value)))...)
	out = append(out, req.Value...)
	return out
}

func encodeBulkSetRequestForTest(pairs []SetRequest) []byte {
	out := encodeU32(uint32(len(pairs)))
	for _, p := range pairs {
		out = append(out, encodeSetRequestForTest(p)...)
	}
	return out
}
