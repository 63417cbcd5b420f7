// ABOUTME: Tests for the body parser and the parse middleware
// ABOUTME: Oversized bodies never reach the next handler

package httpengine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-runtime/internal/bufpool"
	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/transport"
)

func TestParserDecodesAndReturnsBuffer(t *testing.T) {
	pool := bufpool.New(bufpool.Config{MaxBuffers: 2, BufferSize: 16})
	p := NewParser(bufpool.Pooled{Pool: pool}, 1024)

	r := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping","params":{"k":"v"}}`))
	msg, err := p.Parse(r)
	require.NoError(t, err)
	assert.Equal(t, "ping", msg.Method)
	assert.JSONEq(t, `{"k":"v"}`, string(msg.Params))
	assert.Equal(t, 1, pool.Stats().Available)

	// Reusing the buffer must not corrupt the first message.
	r = httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{"x":"yyyyyyyy"}}`))
	_, err = NewParser(bufpool.Pooled{Pool: pool}, 1024).Parse(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(msg.Params))
}

func TestParserTooLarge(t *testing.T) {
	body := strings.Repeat("x", 200)

	r := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	_, err := NewParser(nil, 64).Parse(r)
	var te *transport.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, transport.KindTooLarge, te.Kind)
	assert.Equal(t, int64(200), te.Size)
	assert.Equal(t, int64(64), te.MaxSize)

	// Unknown length is detected while reading.
	r = httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	r.ContentLength = -1
	_, err = NewParser(nil, 64).Parse(r)
	require.ErrorAs(t, err, &te)
	assert.Equal(t, int64(200), te.Size)
}

func TestParseMiddleware(t *testing.T) {
	reached := 0
	var seen *jsonrpc.Message
	h := ParseMiddleware(ParseOptions{MaxBodySize: 64})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
		seen, _ = jsonrpc.MessageFromContext(r.Context())
	}))

	tests := []struct {
		name     string
		body     string
		status   int
		code     int
		wantNext bool
	}{
		{"valid", `{"jsonrpc":"2.0","id":1,"method":"ping"}`, http.StatusOK, 0, true},
		{"malformed", `{"jsonrpc":`, http.StatusBadRequest, jsonrpc.CodeParseError, false},
		{"array", `[1,2]`, http.StatusBadRequest, jsonrpc.CodeParseError, false},
		{"wrong version", `{"jsonrpc":"1.0","id":3,"method":"ping"}`, http.StatusBadRequest, jsonrpc.CodeInvalidRequest, false},
		{"too large", `{"jsonrpc":"2.0","id":1,"method":"` + strings.Repeat("a", 100) + `"}`, http.StatusRequestEntityTooLarge, jsonrpc.CodePayloadTooLarge, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached, seen = 0, nil
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)
			if tt.wantNext {
				assert.Equal(t, 1, reached)
				require.NotNil(t, seen)
				return
			}
			assert.Zero(t, reached)
			var resp jsonrpc.Message
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}

	t.Run("too large data", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(strings.Repeat(" ", 100))))
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32013,"message":"Payload too large","data":{"size":100,"max_size":64}}}`, rec.Body.String())
	})

	t.Run("GET passes through", func(t *testing.T) {
		reached = 0
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
		assert.Equal(t, 1, reached)
	})
}
