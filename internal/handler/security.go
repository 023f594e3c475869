package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/nghednh/flowershop-checkout/internal/domain/auth"
)

// ownerKey is the context key for the authenticated owner ID.
type ownerKey struct{}

// roleKey is the context key for the authenticated key's role.
type roleKey struct{}

// ownerFromContext returns the authenticated owner ID, or an empty string.
func ownerFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ownerKey{}).(string); ok {
		return id
	}
	return ""
}

// roleFromContext returns the authenticated key's role, or an empty string.
func roleFromContext(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey{}).(string); ok {
		return role
	}
	return ""
}

// authenticate resolves the api_key header to an owner ID. The key is hashed
// with HMAC-SHA256 and the pepper, looked up, and compared in constant time
// to guard against timing side-channels.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("api_key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing api key")
			return
		}

		mac := hmac.New(sha256.New, []byte(h.cfg.APIKeyPepper))
		mac.Write([]byte(key))
		hash := mac.Sum(nil)

		info, err := h.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		storedBytes, err := hex.DecodeString(info.KeyHash)
		if err != nil || subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), ownerKey{}, info.OwnerID)
		ctx = context.WithValue(ctx, roleKey{}, info.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireOperator gates operator-only routes. A customer key reaching one of
// them is a permission problem, not an authentication problem, hence 403.
func (h *Handler) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if roleFromContext(r.Context()) != auth.RoleOperator {
			writeError(w, http.StatusForbidden, "operator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// verifyCallback authenticates the payment provider's callback requests by
// the shared secret header, compared in constant time.
func (h *Handler) verifyCallback(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("X-Callback-Secret"))
		want := []byte(h.cfg.CallbackSecret)
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
