package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Key derives a stable cache key from a request's identity fields. The prompt
// is trimmed and the parameter map is serialized with stable key ordering
// (encoding/json sorts map keys), so logically identical requests collide
// regardless of incidental map ordering. The concatenation uses NUL separators
// to keep field boundaries unambiguous.
func Key(provider, model, prompt string, params map[string]any) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(prompt)))
	h.Write([]byte{0})
	if len(params) > 0 {
		// json.Marshal emits map keys in sorted order, which is exactly the
		// stable-sort-then-hash contract the key requires.
		b, err := json.Marshal(params)
		if err == nil {
			h.Write(b)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
