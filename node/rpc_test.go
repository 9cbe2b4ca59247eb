package node_test

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forkwatch/models"
)

var testInfo = models.NodeInfo{ID: 3, Name: "core", Description: "test backend"}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcHandler func(params []json.RawMessage) (interface{}, *rpcError)

// rpcServer answers JSON-RPC 1.0 POSTs the way bitcoind and btcd do. It
// returns the server address without scheme.
func rpcServer(t *testing.T, handlers map[string]rpcHandler) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		h, ok := handlers[req.Method]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": nil,
				"error":  rpcError{Code: -32601, Message: "Method not found"},
				"id":     req.ID,
			})
			return
		}
		result, rpcErr := h(req.Params)
		if rpcErr != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"result": result, "error": rpcErr, "id": req.ID})
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func serialize(t *testing.T, headers ...wire.BlockHeader) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, h := range headers {
		require.NoError(t, h.Serialize(&buf))
	}
	return buf.Bytes()
}

func serializeHex(t *testing.T, h wire.BlockHeader) string {
	return hex.EncodeToString(serialize(t, h))
}
