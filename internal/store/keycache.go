package store

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"frostchat/internal/crypto"
	"frostchat/internal/domain"
	"frostchat/internal/util/memzero"
)

const (
	saltFile      = "salt"
	checkFile     = "check.enc"
	identityFile  = "identity.enc"
	keyringFile   = "keyring.enc"
	bootstrapFile = "bootstrap.json" // clear by design: first-contact keys only
	chatsFile     = "chats.json"
)

// checkPlain is sealed into check.enc at profile creation so a wrong
// passphrase is detected at open instead of surfacing as garbage later.
var checkPlain = []byte("frostchat-keycache-v1")

// KeyCache stores session keys, the private identity key, bootstrap keys and
// the chat registry on disk under one profile directory.
//
// Everything except bootstrap keys and the chat registry is sealed with the
// AEAD codec under a master key derived from the profile passphrase. The
// cache is scoped to one authenticated session: ClearAll on logout removes
// every file and wipes the in-memory master key.
type KeyCache struct {
	dir    string
	mu     sync.Mutex
	master []byte
}

// OpenKeyCache derives the master key from the passphrase and verifies it
// against the profile's check blob. A wrong passphrase for an existing
// profile returns domain.ErrCacheIntegrity.
func OpenKeyCache(dir, passphrase string) (*KeyCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	salt, err := readFile(filepath.Join(dir, saltFile))
	if err != nil {
		return nil, err
	}
	if salt == nil {
		if salt, err = crypto.NewSalt(); err != nil {
			return nil, err
		}
		if err := writeFile(filepath.Join(dir, saltFile), salt, 0o600); err != nil {
			return nil, err
		}
	}

	master, err := crypto.DeriveMasterKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	c := &KeyCache{dir: dir, master: master}

	var check domain.Envelope
	if err := readJSON(c.path(checkFile), &check); err != nil {
		return nil, err
	}
	if check.Nonce == nil {
		// Fresh profile: seal the check blob now.
		env, err := crypto.Seal(checkPlain, master, []byte(checkFile))
		if err != nil {
			return nil, err
		}
		if err := writeJSON(c.path(checkFile), env, 0o600); err != nil {
			return nil, err
		}
		return c, nil
	}
	if _, err := crypto.Open(check, master, []byte(checkFile)); err != nil {
		memzero.Zero(master)
		return nil, fmt.Errorf("%w: wrong passphrase for profile %s", domain.ErrCacheIntegrity, dir)
	}
	return c, nil
}

func (c *KeyCache) path(name string) string { return filepath.Join(c.dir, name) }

// ---------- Identity ----------

// SaveIdentity seals the PKCS#8 private key under the master key. The
// private half never reaches disk in the clear.
func (c *KeyCache) SaveIdentity(priv *rsa.PrivateKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	der, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return err
	}
	defer memzero.Zero(der)

	env, err := crypto.Seal(der, c.master, []byte(identityFile))
	if err != nil {
		return err
	}
	return writeJSON(c.path(identityFile), env, 0o600)
}

// LoadIdentity unseals and parses the private identity key.
func (c *KeyCache) LoadIdentity() (*rsa.PrivateKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var env domain.Envelope
	if err := readJSON(c.path(identityFile), &env); err != nil {
		return nil, err
	}
	if env.Nonce == nil {
		return nil, os.ErrNotExist
	}
	der, err := crypto.Open(env, c.master, []byte(identityFile))
	if err != nil {
		return nil, fmt.Errorf("%w: identity", domain.ErrCacheIntegrity)
	}
	defer memzero.Zero(der)
	return crypto.ParsePrivateKey(der)
}

// HasIdentity reports whether an identity has been generated for this profile.
func (c *KeyCache) HasIdentity() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := readFile(c.path(identityFile))
	if err != nil {
		return false, err
	}
	return b != nil, nil
}

// ---------- Session key ring ----------

func (c *KeyCache) loadRing() (map[string]domain.CachedKey, error) {
	ring := make(map[string]domain.CachedKey)

	var env domain.Envelope
	if err := readJSON(c.path(keyringFile), &env); err != nil {
		return nil, err
	}
	if env.Nonce == nil {
		return ring, nil
	}
	raw, err := crypto.Open(env, c.master, []byte(keyringFile))
	if err != nil {
		return nil, fmt.Errorf("%w: keyring", domain.ErrCacheIntegrity)
	}
	defer memzero.Zero(raw)
	if err := unmarshalRing(raw, ring); err != nil {
		return nil, err
	}
	return ring, nil
}

func (c *KeyCache) saveRing(ring map[string]domain.CachedKey) error {
	raw, err := marshalRing(ring)
	if err != nil {
		return err
	}
	defer memzero.Zero(raw)

	env, err := crypto.Seal(raw, c.master, []byte(keyringFile))
	if err != nil {
		return err
	}
	return writeJSON(c.path(keyringFile), env, 0o600)
}

// PutSessionKey stores or replaces one ring entry keyed by key ID.
func (c *KeyCache) PutSessionKey(k domain.CachedKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring, err := c.loadRing()
	if err != nil {
		return err
	}
	ring[k.KeyID] = k
	return c.saveRing(ring)
}

// ActiveKey returns the chat's active ring entry, if any.
func (c *KeyCache) ActiveKey(chatID string) (domain.CachedKey, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring, err := c.loadRing()
	if err != nil {
		return domain.CachedKey{}, false, err
	}
	// Newest active entry wins; there should only ever be one.
	var best domain.CachedKey
	found := false
	for _, k := range ring {
		if k.ChatID != chatID || k.Status == domain.KeyStatusExpired {
			continue
		}
		if !found || k.CreatedAt.After(best.CreatedAt) {
			best, found = k, true
		}
	}
	return best, found, nil
}

// KeyByID returns a ring entry in any status, expired included, so messages
// sealed before a rotation stay readable.
func (c *KeyCache) KeyByID(keyID string) (domain.CachedKey, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring, err := c.loadRing()
	if err != nil {
		return domain.CachedKey{}, false, err
	}
	k, ok := ring[keyID]
	return k, ok, nil
}

// MarkKeyExpired flags a ring entry expired without removing its material.
func (c *KeyCache) MarkKeyExpired(keyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring, err := c.loadRing()
	if err != nil {
		return err
	}
	k, ok := ring[keyID]
	if !ok {
		return nil
	}
	k.Status = domain.KeyStatusExpired
	ring[keyID] = k
	return c.saveRing(ring)
}

// DeleteKey removes a ring entry. Used only when a handshake is abandoned.
func (c *KeyCache) DeleteKey(keyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ring, err := c.loadRing()
	if err != nil {
		return err
	}
	if _, ok := ring[keyID]; !ok {
		return nil
	}
	delete(ring, keyID)
	return c.saveRing(ring)
}

// ---------- Bootstrap keys ----------

// PutBootstrapKey stores a first-contact key in the clear. This is the one
// deliberately lower-security entry; real session keys never go through it.
func (c *KeyCache) PutBootstrapKey(chatID string, key []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := make(map[string][]byte)
	if err := readJSON(c.path(bootstrapFile), &m); err != nil {
		return err
	}
	m[chatID] = append([]byte(nil), key...)
	return writeJSON(c.path(bootstrapFile), m, 0o600)
}

// BootstrapKey returns the stored first-contact key for a chat.
func (c *KeyCache) BootstrapKey(chatID string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := make(map[string][]byte)
	if err := readJSON(c.path(bootstrapFile), &m); err != nil {
		return nil, false, err
	}
	k, ok := m[chatID]
	return k, ok, nil
}

// ---------- Chat registry ----------

// SaveChat records or replaces a chat registry entry.
func (c *KeyCache) SaveChat(chat domain.Chat) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := make(map[string]domain.Chat)
	if err := readJSON(c.path(chatsFile), &m); err != nil {
		return err
	}
	m[chat.ID] = chat
	return writeJSON(c.path(chatsFile), m, 0o600)
}

// Chat returns one registry entry.
func (c *KeyCache) Chat(chatID string) (domain.Chat, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := make(map[string]domain.Chat)
	if err := readJSON(c.path(chatsFile), &m); err != nil {
		return domain.Chat{}, false, err
	}
	ch, ok := m[chatID]
	return ch, ok, nil
}

// Chats returns every registered chat.
func (c *KeyCache) Chats() ([]domain.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := make(map[string]domain.Chat)
	if err := readJSON(c.path(chatsFile), &m); err != nil {
		return nil, err
	}
	out := make([]domain.Chat, 0, len(m))
	for _, ch := range m {
		out = append(out, ch)
	}
	return out, nil
}

// ---------- Lifetime ----------

// ClearAll removes every stored file and wipes the master key. Retrieval of
// any previously stored entry afterwards reports not found, never stale data.
func (c *KeyCache) ClearAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range []string{saltFile, checkFile, identityFile, keyringFile, bootstrapFile, chatsFile} {
		if err := os.Remove(c.path(name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	memzero.Zero(c.master)
	return nil
}

// Close wipes the in-memory master key without touching disk.
func (c *KeyCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	memzero.Zero(c.master)
}

func marshalRing(ring map[string]domain.CachedKey) ([]byte, error) {
	return json.Marshal(ring)
}

func unmarshalRing(raw []byte, ring map[string]domain.CachedKey) error {
	return json.Unmarshal(raw, &ring)
}

// Compile-time assertion that KeyCache implements domain.KeyCache.
var _ domain.KeyCache = (*KeyCache)(nil)
