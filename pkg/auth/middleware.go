package auth

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Header names for signature authentication. Callers prove control of an
// address by personal-signing the request message.
const (
	HeaderSignature = "X-Signature"
	HeaderMessage   = "X-Message"
)

// CallerMiddleware authenticates the caller from EIP-191 signature headers
// and stores the recovered address in the request context. Requests without
// both headers pass through unauthenticated; handlers that require a caller
// reject them via CallerFromContext.
func CallerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithRequestID(r.Context(), uuid.NewString())

			signature := r.Header.Get(HeaderSignature)
			message := r.Header.Get(HeaderMessage)
			if signature != "" && message != "" {
				addr, err := VerifyEIP191Signature(message, signature)
				if err != nil {
					logger.Debug("caller signature rejected", zap.Error(err))
				} else {
					ctx = WithCaller(ctx, addr)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
