package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/tonledb/tonle/pkg/errors"
)

const nonceSize = 12

// CryptoStorage wraps another Storage, encrypting every value with
// AES-256-GCM before it reaches the wrapped store and decrypting on the way
// out. Keys are left in the clear (space/key layout, index ordering and
// prefix scans all depend on visible keys); only values are confidential.
//
// Wire format per stored value: nonce(12) || ciphertext || tag. The
// authenticated-data input is space||key, so a ciphertext cannot be replayed
// under a different key without failing authentication.
type CryptoStorage struct {
	inner Storage
	aead  cipher.AEAD
}

// NewCryptoStorage wraps inner, encrypting with a 32-byte AES-256 key.
func NewCryptoStorage(inner Storage, key []byte) (*CryptoStorage, error) {
	if len(key) != 32 {
		return nil, errors.Invalid("encryption key must be exactly 32 bytes for AES-256")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.StorageErr("failed to construct AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.StorageErr("failed to construct AEAD", err)
	}
	return &CryptoStorage{inner: inner, aead: gcm}, nil
}

func (c *CryptoStorage) associatedData(space Space, key []byte) []byte {
	ad := make([]byte, 0, len(space)+len(key))
	ad = append(ad, space...)
	ad = append(ad, key...)
	return ad
}

func (c *CryptoStorage) seal(space Space, key, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.StorageErr("failed to generate nonce", err)
	}
	ad := c.associatedData(space, key)
	sealed := c.aead.Seal(nil, nonce, plaintext, ad)
	return append(nonce, sealed...), nil
}

func (c *CryptoStorage) open(space Space, key, stored []byte) ([]byte, bool) {
	if len(stored) < nonceSize {
		return nil, false
	}
	nonce, ciphertext := stored[:nonceSize], stored[nonceSize:]
	ad := c.associatedData(space, key)
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

func (c *CryptoStorage) Get(space Space, key []byte) ([]byte, bool, error) {
	stored, ok, err := c.inner.Get(space, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	plaintext, ok := c.open(space, key, stored)
	if !ok {
		// A failed authentication is treated like the key never existed:
		// it cannot be distinguished from tampering or a wrong key.
		return nil, false, nil
	}
	return plaintext, true, nil
}

func (c *CryptoStorage) Put(space Space, key []byte, value []byte) error {
	sealed, err := c.seal(space, key, value)
	if err != nil {
		return err
	}
	return c.inner.Put(space, key, sealed)
}

func (c *CryptoStorage) Del(space Space, key []byte) error {
	return c.inner.Del(space, key)
}

// PutIfAbsent seals value and delegates the conditional write to inner,
// which carries the actual atomicity guarantee.
func (c *CryptoStorage) PutIfAbsent(space Space, key, value []byte) (bool, error) {
	sealed, err := c.seal(space, key, value)
	if err != nil {
		return false, err
	}
	return c.inner.PutIfAbsent(space, key, sealed)
}

// ScanPrefix decrypts every entry of the inner scan up front; entries that fail to
// authenticate are silently dropped rather than returned or erroring the
// whole scan.
func (c *CryptoStorage) ScanPrefix(space Space, prefix []byte) ([]Entry, error) {
	raw, err := c.inner.ScanPrefix(space, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, e := range raw {
		plaintext, ok := c.open(space, e.Key, e.Value)
		if !ok {
			continue
		}
		out = append(out, Entry{Key: e.Key, Value: plaintext})
	}
	return out, nil
}

func (c *CryptoStorage) GetVersioned(space Space, key []byte, version uint64) ([]byte, bool, error) {
	stored, ok, err := c.inner.GetVersioned(space, key, version)
	if err != nil || !ok {
		return nil, ok, err
	}
	plaintext, ok := c.open(space, key, stored)
	if !ok {
		return nil, false, nil
	}
	return plaintext, true, nil
}

func (c *CryptoStorage) PutVersioned(space Space, key []byte, value []byte, version uint64) error {
	sealed, err := c.seal(space, key, value)
	if err != nil {
		return err
	}
	return c.inner.PutVersioned(space, key, sealed, version)
}

func (c *CryptoStorage) Close() error {
	return c.inner.Close()
}

func (c *CryptoStorage) MarkTxnCommit(txnID uint64) error {
	return c.inner.MarkTxnCommit(txnID)
}
