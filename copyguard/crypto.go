package copyguard

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"io"
)

// pkcs1Overhead is the padding overhead of one PKCS#1 v1.5 block.
const pkcs1Overhead = 11

// Encrypt encrypts plaintext for an authority, splitting it into as many
// PKCS#1 v1.5 blocks as the key size requires.
func Encrypt(random io.Reader, pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	if random == nil {
		random = rand.Reader
	}
	chunk := pub.Size() - pkcs1Overhead
	if chunk <= 0 {
		return nil, ErrInvalidEncryptionKey
	}
	out := make([]byte, 0, (len(plaintext)/chunk+1)*pub.Size())
	for start := 0; ; start += chunk {
		end := start + chunk
		if end > len(plaintext) {
			end = len(plaintext)
		}
		block, err := rsa.EncryptPKCS1v15(random, pub, plaintext[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		if end == len(plaintext) {
			break
		}
	}
	return out, nil
}

// Decrypt reverses Encrypt.
func Decrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	size := priv.Size()
	if len(ciphertext) == 0 || len(ciphertext)%size != 0 {
		return nil, ErrDecryptionFailed
	}
	var out []byte
	for start := 0; start < len(ciphertext); start += size {
		block, err := rsa.DecryptPKCS1v15(nil, priv, ciphertext[start:start+size])
		if err != nil {
			return nil, ErrDecryptionFailed
		}
		out = append(out, block...)
	}
	return out, nil
}

// MarshalEncryptionKey encodes an authority's public encryption key.
func MarshalEncryptionKey(pub *rsa.PublicKey) []byte {
	return x509.MarshalPKCS1PublicKey(pub)
}

// ParseEncryptionKey decodes a key produced by MarshalEncryptionKey.
func ParseEncryptionKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, ErrInvalidEncryptionKey
	}
	return pub, nil
}
