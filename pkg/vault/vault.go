// Package vault provides the optional encryption collaborator chunk.Codec
// consumes (spec §6: "opaque encrypt(bytes)/decrypt(bytes)"). No example
// repo or ecosystem dependency pulled in by the teacher or the rest of the
// retrieved pack provides an encryption primitive, so this is built on
// crypto/aes + crypto/cipher from the standard library (DESIGN.md records
// this as a standard-library fallback).
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/ssargent/rootsdb/pkg/rootserr"
)

// None is a no-op Vault: encrypt and decrypt are both the identity
// function. It is the default for TreeConfig.Vault == "".
type None struct{}

func (None) Encrypt(plaintext []byte) ([]byte, error) { return plaintext, nil }

func (None) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

// AESGCM is a Vault backed by AES-256-GCM. The nonce is generated fresh
// per Encrypt call and prepended to the ciphertext; Decrypt expects that
// layout.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM builds an AESGCM vault from a 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, rootserr.Wrap(rootserr.Other, err, "vault: construct AES cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, rootserr.Wrap(rootserr.Other, err, "vault: construct AES-GCM")
	}
	return &AESGCM{aead: aead}, nil
}

// Encrypt returns nonce||ciphertext.
func (v *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, rootserr.Wrap(rootserr.Other, err, "vault: generate nonce")
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt expects the nonce||ciphertext layout Encrypt produces.
func (v *AESGCM) Decrypt(data []byte) ([]byte, error) {
	n := v.aead.NonceSize()
	if len(data) < n {
		return nil, rootserr.New(rootserr.DataIntegrity, "vault: ciphertext shorter than nonce")
	}
	plain, err := v.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, rootserr.Wrap(rootserr.DataIntegrity, err, "vault: decrypt")
	}
	return plain, nil
}
