package keystore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"roomseal/internal/crypto"
	"roomseal/internal/domain"
)

const identityFilename = "identity.json.enc"

// FileStore persists the local identity to disk and performs the
// asymmetric wrap/unwrap primitives of the exchange protocol.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// New returns a FileStore rooted at dir.
func New(dir string) *FileStore { return &FileStore{dir: dir} }

// GenerateIdentity creates a fresh key pair and persists it encrypted
// under the passphrase. Any previously stored identity is replaced.
func (s *FileStore) GenerateIdentity(passphrase string) (domain.Identity, error) {
	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return domain.Identity{}, err
	}
	id := domain.Identity{
		Public:      pub,
		Private:     priv,
		Fingerprint: crypto.Fingerprint(pub),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(passphrase, id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

// LoadIdentity reads and decrypts the identity. ok is false when no
// identity has been created yet.
func (s *FileStore) LoadIdentity(passphrase string) (domain.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(s.path())
	if err != nil {
		return domain.Identity{}, false, err
	}
	if b == nil {
		return domain.Identity{}, false, nil
	}
	pt, err := open(passphrase, b)
	if err != nil {
		return domain.Identity{}, false, err
	}
	defer crypto.Wipe(pt)

	var id domain.Identity
	if err := json.Unmarshal(pt, &id); err != nil {
		return domain.Identity{}, false, err
	}
	return id, true, nil
}

// Wrap asymmetric-encrypts a room key for one recipient.
func (s *FileStore) Wrap(key domain.SymmetricKey, recipient domain.PublicKey) ([]byte, error) {
	return crypto.WrapKey(key, recipient)
}

// Unwrap recovers a room key wrapped for this identity.
func (s *FileStore) Unwrap(ciphertext []byte, id domain.Identity) (domain.SymmetricKey, error) {
	return crypto.UnwrapKey(ciphertext, id.Public, id.Private)
}

// ResetIdentity destroys the current key pair and persists a new one.
// The replacement is atomic: on any failure the prior identity remains
// on disk untouched.
func (s *FileStore) ResetIdentity(passphrase string) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(s.path())
	if err != nil {
		return domain.Identity{}, err
	}
	if b == nil {
		return domain.Identity{}, domain.ErrNoIdentity
	}
	// Verify the passphrase against the existing envelope before
	// generating a replacement.
	if _, err := open(passphrase, b); err != nil {
		return domain.Identity{}, fmt.Errorf("reset identity: %w", err)
	}

	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return domain.Identity{}, err
	}
	id := domain.Identity{
		Public:      pub,
		Private:     priv,
		Fingerprint: crypto.Fingerprint(pub),
	}
	if err := s.save(passphrase, id); err != nil {
		return domain.Identity{}, fmt.Errorf("reset identity: %w", err)
	}
	return id, nil
}

// save seals and writes the identity. Callers hold s.mu.
func (s *FileStore) save(passphrase string, id domain.Identity) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	defer crypto.Wipe(raw)

	N, r, p := scryptParamsDefault()
	ct, err := seal(passphrase, raw, N, r, p)
	if err != nil {
		return err
	}
	return writeFile(s.path(), ct, 0o600)
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, identityFilename)
}

// Compile-time assertion that FileStore implements domain.KeyStore.
var _ domain.KeyStore = (*FileStore)(nil)
