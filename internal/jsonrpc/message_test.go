// ABOUTME: Tests for the JSON-RPC envelope codec and classification
// ABOUTME: Covers id kinds, null ids, round-trips and invalid shapes

package jsonrpc

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClassify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Kind
	}{
		{"request int id", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, KindRequest},
		{"request string id", `{"jsonrpc":"2.0","id":"abc","method":"tools/list","params":{}}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"initialized"}`, KindNotification},
		{"result response", `{"jsonrpc":"2.0","id":7,"result":{}}`, KindResponse},
		{"null result response", `{"jsonrpc":"2.0","id":7,"result":null}`, KindResponse},
		{"error response", `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`, KindResponse},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, KindInvalid},
		{"result and error", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`, KindInvalid},
		{"method with result", `{"jsonrpc":"2.0","id":1,"method":"ping","result":{}}`, KindInvalid},
		{"no method no id", `{"jsonrpc":"2.0"}`, KindInvalid},
		{"unknown fields tolerated", `{"jsonrpc":"2.0","id":1,"method":"ping","extra":true}`, KindRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, Classify(msg))
		})
	}
}

func TestDecodeParseErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "not json", "[1,2]", `{"jsonrpc":`} {
		_, err := Decode([]byte(in))
		require.Error(t, err, "input %q", in)

		var eo *ErrorObject
		require.ErrorAs(t, err, &eo)
		assert.Equal(t, CodeParseError, eo.Code)
	}
}

func TestDecodeRejectsNonScalarIDs(t *testing.T) {
	for _, in := range []string{
		`{"jsonrpc":"2.0","id":1.5,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":true,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":{"a":1},"method":"ping"}`,
	} {
		_, err := Decode([]byte(in))
		var eo *ErrorObject
		require.ErrorAs(t, err, &eo, "input %s", in)
		assert.Equal(t, CodeInvalidRequest, eo.Code)
	}
}

func TestValidatePreservesID(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"1.0","id":"x","method":"ping"}`))
	require.NoError(t, err)

	eo := Validate(msg)
	require.NotNil(t, eo)
	assert.Equal(t, CodeInvalidRequest, eo.Code)

	resp := NewError(msg.ID, eo)
	data, err := Encode(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"x","error":{"code":-32600,"message":"Invalid Request","data":"jsonrpc must be \"2.0\""}}`, string(data))
}

func TestNullIDOnErrorResponse(t *testing.T) {
	resp := NewError(nil, ParseError(nil))
	data, err := Encode(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`, string(data))
}

func TestIDKindsAreDistinct(t *testing.T) {
	assert.NotEqual(t, StringID("1").Key(), IntID(1).Key())

	n, ok := IntID(42).Int()
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
	assert.True(t, StringID("a").IsString())
}

func TestMethodNotFoundEchoesMethod(t *testing.T) {
	id := IntID(3)
	data, err := Encode(NewError(&id, MethodNotFound("foo/bar")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"Method not found","data":"foo/bar"}}`, string(data))
}

func TestRoundTrip(t *testing.T) {
	fixed := []string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}`,
		`{"jsonrpc":"2.0","method":"initialized"}`,
		`{"jsonrpc":"2.0","id":"req-9","result":{"tools":[]}}`,
		`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`,
		`{"jsonrpc":"2.0","id":-12,"error":{"code":-32602,"message":"Invalid params","data":{"name":"x"}}}`,
	}
	for _, in := range fixed {
		msg, err := Decode([]byte(in))
		require.NoError(t, err)
		out, err := Encode(msg)
		require.NoError(t, err)
		assert.JSONEq(t, in, string(out))
	}
}

func TestRoundTripRandomEnvelopes(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	methods := []string{"ping", "tools/call", "resources/read", "x/y/z"}

	for i := 0; i < 200; i++ {
		var id ID
		if r.Intn(2) == 0 {
			id = IntID(r.Int63() - r.Int63())
		} else {
			id = StringID(fmt.Sprintf("id-%d", r.Int()))
		}

		var msg *Message
		var err error
		switch r.Intn(4) {
		case 0:
			msg, err = NewRequest(id, methods[r.Intn(len(methods))], map[string]int{"n": r.Intn(100)})
		case 1:
			msg, err = NewNotification(methods[r.Intn(len(methods))], nil)
		case 2:
			msg, err = NewResult(&id, map[string]any{"ok": r.Intn(2) == 0})
		default:
			msg = NewError(&id, NewErrorObject(-32000-r.Intn(99), "boom", nil))
		}
		require.NoError(t, err)

		first, err := Encode(msg)
		require.NoError(t, err)
		decoded, err := Decode(first)
		require.NoError(t, err)
		assert.NotEqual(t, KindInvalid, Classify(decoded))
		second, err := Encode(decoded)
		require.NoError(t, err)
		assert.JSONEq(t, string(first), string(second))

		var generic map[string]any
		require.NoError(t, json.Unmarshal(second, &generic))
		assert.Equal(t, "2.0", generic["jsonrpc"])
	}
}
