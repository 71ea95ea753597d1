package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Encryptor is the envelope-encryption collaborator. The engine never manages
// key material beyond calling encrypt/decrypt; key rotation policy lives with
// whoever supplies the keyring.
type Encryptor interface {
	Encrypt(plaintext []byte) (ciphertext []byte, keyVersion int, err error)
	Decrypt(ciphertext []byte, keyVersion int) ([]byte, error)
}

// Keyring is an AES-256-GCM Encryptor over a versioned set of keys. New
// secrets are sealed with the current version; old versions stay available
// for decrypting records written before a rotation.
type Keyring struct {
	keys    map[int][]byte
	current int
}

// NewKeyring decodes base64 keys keyed by version. Every key must be 32
// bytes; the current version must be present.
func NewKeyring(encoded map[int]string, current int) (*Keyring, error) {
	if len(encoded) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}
	keys := make(map[int][]byte, len(encoded))
	for version, b64 := range encoded {
		key, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("key version %d: invalid base64: %w", version, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("key version %d: must be 32 bytes, got %d", version, len(key))
		}
		keys[version] = key
	}
	if _, ok := keys[current]; !ok {
		return nil, fmt.Errorf("current key version %d not present in keyring", current)
	}
	return &Keyring{keys: keys, current: current}, nil
}

func (k *Keyring) Encrypt(plaintext []byte) ([]byte, int, error) {
	gcm, err := k.aead(k.current)
	if err != nil {
		return nil, 0, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, 0, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), k.current, nil
}

func (k *Keyring) Decrypt(ciphertext []byte, keyVersion int) ([]byte, error) {
	gcm, err := k.aead(keyVersion)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, sealed, nil)
}

func (k *Keyring) aead(version int) (cipher.AEAD, error) {
	key, ok := k.keys[version]
	if !ok {
		return nil, fmt.Errorf("unknown key version %d", version)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
