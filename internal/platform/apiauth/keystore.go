// Package apiauth is the Binance-style API key/secret registry shared by
// the REST and WebSocket façades. It is a façade-boundary concern, separate
// from account.Manager's balance bookkeeping.
package apiauth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
)

// Credential binds one API key to a user ID and HMAC secret.
type Credential struct {
	UserID uuid.UUID
	Secret string
}

// KeyStore maps API keys to Credentials.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]Credential
}

// NewKeyStore creates an empty KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]Credential)}
}

// Issue mints a new API key/secret pair for userID and registers it.
func (k *KeyStore) Issue(userID uuid.UUID) (apiKey, secret string) {
	apiKey = randHex(32)
	secret = randHex(32)
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[apiKey] = Credential{UserID: userID, Secret: secret}
	return apiKey, secret
}

// Lookup resolves an API key to its Credential.
func (k *KeyStore) Lookup(apiKey string) (Credential, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	c, ok := k.keys[apiKey]
	return c, ok
}

func randHex(n int) string {
	b := make([]byte, n/2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
