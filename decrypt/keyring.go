package decrypt

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ytget/ytresolve/client"
	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/logger"
	"github.com/ytget/ytresolve/types"
)

// DefaultKeyTTL bounds how long fetched keys are reused.
const DefaultKeyTTL = 10 * time.Minute

// Fetcher retrieves key bytes. *client.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string) (*client.Response, error)
}

// Keyring fetches keys by URI and caches them.
type Keyring struct {
	fetch Fetcher
	keys  *gocache.Cache
	log   *logger.ComponentLogger
}

// NewKeyring creates a keyring; ttl <= 0 uses DefaultKeyTTL.
func NewKeyring(f Fetcher, ttl time.Duration) *Keyring {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &Keyring{
		fetch: f,
		keys:  gocache.New(ttl, 2*ttl),
		log:   logger.WithComponent(logger.ComponentDecrypt),
	}
}

// Key returns the 16 key bytes served at uri.
func (k *Keyring) Key(ctx context.Context, uri string) ([]byte, error) {
	if v, ok := k.keys.Get(uri); ok {
		return v.([]byte), nil
	}
	resp, err := k.fetch.Get(ctx, uri)
	if err != nil {
		return nil, errs.Crypto(errs.CodeKeyFetchFailed, "fetch key", err)
	}
	if len(resp.Body) != KeySize {
		return nil, errs.Crypto(errs.CodeKeyFetchFailed, fmt.Sprintf("key is %d bytes, want %d", len(resp.Body), KeySize), nil)
	}
	key := append([]byte(nil), resp.Body...)
	k.keys.SetDefault(uri, key)
	k.log.Debug("key fetched", map[string]interface{}{"uri": uri})
	return key, nil
}

// ContextFor returns the decryption context of the segment with sequence seq
// under key. A nil key or METHOD=NONE yields nil (passthrough).
func (k *Keyring) ContextFor(ctx context.Context, key *types.KeyRef, seq uint64) (*Context, error) {
	if !key.Encrypted() {
		return nil, nil
	}
	if !strings.EqualFold(key.Method, "AES-128") {
		return nil, errs.Crypto(errs.CodeKeyFetchFailed, "unsupported key method "+key.Method, nil)
	}
	if key.URI == "" {
		return nil, errs.Crypto(errs.CodeKeyFetchFailed, "key without URI", nil)
	}
	b, err := k.Key(ctx, key.URI)
	if err != nil {
		return nil, err
	}
	iv := key.IV
	if iv == nil {
		iv = IVForSequence(seq)
	}
	c, err := NewContext(b, iv)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
