package exchange

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"sync/atomic"
	"time"
)

var lastNonce int64

// Nonce returns a strictly increasing millisecond timestamp. The exchange
// rejects reused or rewound nonces, so bursts within the same millisecond
// are bumped forward.
func Nonce() int64 {
	for {
		prev := atomic.LoadInt64(&lastNonce)
		next := time.Now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if atomic.CompareAndSwapInt64(&lastNonce, prev, next) {
			return next
		}
	}
}

// Sign computes the request signature over the exact serialized body. The
// receiver verifies against the same bytes, so the body must be sent
// unmodified after signing.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
