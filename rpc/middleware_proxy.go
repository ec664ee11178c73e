package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// ProxyGET wraps an HTTP handler so that a plain GET to path is
// rewritten in place into the POST a JSON-RPC caller would send to
// invoke method with no params, then handed to next exactly like any
// other call. The JSON-RPC envelope is stripped from the response
// body before it reaches the real client: a health endpoint sees a
// bare result (or the error object, on failure), not
// {"jsonrpc":"2.0","id":1,...} (spec.md §4.D).
func ProxyGET(path, method string, next http.Handler) http.Handler {
	body := []byte(`{"jsonrpc":"2.0","method":"` + method + `","params":null,"id":1}`)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != path {
			next.ServeHTTP(w, r)
			return
		}
		r.Method = http.MethodPost
		r.URL.Path = "/"
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Accept", "application/json")
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))

		rec := &envelopeStrippingWriter{ResponseWriter: w, buf: &bytes.Buffer{}}
		next.ServeHTTP(rec, r)
		rec.flush()
	})
}

// envelopeStrippingWriter buffers the wrapped handler's body so it can
// be unwrapped from a JSON-RPC envelope to a bare result/error before
// being written to the real client.
type envelopeStrippingWriter struct {
	http.ResponseWriter
	buf         *bytes.Buffer
	wroteHeader bool
	statusCode  int
}

func (w *envelopeStrippingWriter) WriteHeader(code int) {
	w.wroteHeader = true
	w.statusCode = code
}

func (w *envelopeStrippingWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *envelopeStrippingWriter) flush() {
	status := w.statusCode
	if !w.wroteHeader {
		status = http.StatusOK
	}
	if w.buf.Len() == 0 {
		w.ResponseWriter.WriteHeader(status)
		return
	}
	var env message
	out := w.buf.Bytes()
	if err := json.Unmarshal(w.buf.Bytes(), &env); err == nil && env.Version == jsonrpcVersion {
		if env.Error != nil {
			out, _ = json.Marshal(env.Error)
		} else if env.Result != nil {
			out = env.Result
		}
	}
	w.ResponseWriter.Header().Set("content-type", "application/json")
	w.ResponseWriter.WriteHeader(status)
	w.ResponseWriter.Write(out)
}
