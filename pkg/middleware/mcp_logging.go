package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/logging"
)

// maxMCPBodyBytes bounds how much of a request body is buffered for logging.
const maxMCPBodyBytes = 1 << 20

var sensitiveArgumentKeywords = []string{"password", "secret", "token", "key", "credential"}

// MCPRequestLogger returns middleware that logs JSON-RPC calls made against
// the MCP endpoint: method, tool, sanitized arguments and the outcome.
// Pass nil logger to disable logging.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxMCPBodyBytes))
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				http.Error(w, "unreadable request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))

			var call rpcCall
			if err := json.Unmarshal(body, &call); err != nil {
				logger.Debug("Failed to parse MCP request JSON", zap.Error(err))
			}

			requestID := RequestID(r.Context())
			logger.Debug("MCP request",
				zap.String("request_id", requestID),
				zap.String("method", call.Method),
				zap.String("tool", call.Params.Name),
				zap.Any("arguments", sanitizeArguments(call.Params.Arguments)),
			)

			rec := &mcpResponseRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			var reply rpcReply
			if err := json.Unmarshal(rec.body.Bytes(), &reply); err != nil {
				// streamed or empty responses (notifications) are not JSON objects
				return
			}

			switch {
			case reply.Error != nil:
				logger.Debug("MCP response error",
					zap.String("request_id", requestID),
					zap.String("tool", call.Params.Name),
					zap.Int("error_code", reply.Error.Code),
					zap.String("error_message", reply.Error.Message),
					zap.Duration("duration", duration),
				)
			case reply.Result.IsError:
				logger.Debug("MCP response error",
					zap.String("request_id", requestID),
					zap.String("tool", call.Params.Name),
					zap.Bool("tool_error", true),
					zap.Duration("duration", duration),
				)
			default:
				logger.Debug("MCP response success",
					zap.String("request_id", requestID),
					zap.String("tool", call.Params.Name),
					zap.Duration("duration", duration),
				)
			}
		})
	}
}

type rpcCall struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

type rpcReply struct {
	Result struct {
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// mcpResponseRecorder tees the response body so the reply can be inspected.
type mcpResponseRecorder struct {
	http.ResponseWriter
	body bytes.Buffer
}

func (r *mcpResponseRecorder) Write(b []byte) (int, error) {
	if r.body.Len() < maxMCPBodyBytes {
		r.body.Write(b)
	}
	return r.ResponseWriter.Write(b)
}

func (r *mcpResponseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// sanitizeArguments redacts credential-like keys and truncates long strings.
// Questions can quote customer data, so they are cut the same way as SQL.
func sanitizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			out[k] = logging.RedactedText
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = logging.TruncateString(s, logging.MaxQueryLogLength)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, kw := range sensitiveArgumentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
