package exchange

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"sync"
	"testing"
)

func TestNonceMonotonic(t *testing.T) {
	prev := Nonce()
	for i := 0; i < 1000; i++ {
		n := Nonce()
		if n <= prev {
			t.Fatalf("nonce not strictly increasing: %d after %d", n, prev)
		}
		prev = n
	}
}

func TestNonceMonotonicConcurrent(t *testing.T) {
	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[int64]bool, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				n := Nonce()
				mu.Lock()
				if seen[n] {
					mu.Unlock()
					t.Errorf("duplicate nonce %d", n)
					return
				}
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestSignMatchesHMAC(t *testing.T) {
	secret := "top-secret"
	body := []byte(`{"apiKey":"abc","nonce":1234}`)

	got := Sign(secret, body)

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	if got != want {
		t.Fatalf("signature mismatch: got %s want %s", got, want)
	}
	if len(got) != 128 {
		t.Fatalf("expected 128 hex chars for SHA-512, got %d", len(got))
	}
}

func TestSignDeterministic(t *testing.T) {
	body := []byte("payload")
	if Sign("k", body) != Sign("k", body) {
		t.Fatal("same secret and body must produce the same signature")
	}
	if Sign("k", body) == Sign("other", body) {
		t.Fatal("different secrets must produce different signatures")
	}
}
