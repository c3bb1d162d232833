// Package cipher encrypts staged video files at rest. Files are written as a
// random 16-byte IV followed by an AES-256-CTR keystream XOR of the payload,
// so ciphertext length is always payload length plus 16.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize        = 32
	ivSize         = aes.BlockSize
	copyBufferSize = 64 * 1024

	deriveIterations = 4096
)

// Codec holds a fixed AES-256 key and encrypts or decrypts file payloads.
type Codec struct {
	key []byte
}

// Option adjusts how a Codec derives its key from the configured secret.
type Option func(*codecConfig)

type codecConfig struct {
	deriveSalt []byte
}

// WithDerivedKey switches key derivation from secret padding to
// PBKDF2-SHA256 over the secret with the supplied salt.
func WithDerivedKey(salt []byte) Option {
	return func(cfg *codecConfig) {
		cfg.deriveSalt = append([]byte(nil), salt...)
	}
}

// New builds a Codec from a shared secret. By default the secret is truncated
// or zero-padded to 32 bytes, so the same secret always yields the same key.
func New(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("cipher secret is required")
	}
	cfg := codecConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	var key []byte
	if len(cfg.deriveSalt) > 0 {
		key = pbkdf2.Key([]byte(secret), cfg.deriveSalt, deriveIterations, keySize, sha256.New)
	} else {
		key = make([]byte, keySize)
		copy(key, secret)
	}
	return &Codec{key: key}, nil
}

// EncryptToFile streams plaintext from src into an encrypted file at dst,
// returning the number of ciphertext bytes written including the IV prefix.
func (c *Codec) EncryptToFile(src io.Reader, dst string) (int64, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return 0, fmt.Errorf("generate iv: %w", err)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return 0, fmt.Errorf("init cipher: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create encrypted file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			_ = out.Close()
			_ = os.Remove(dst)
		}
	}()

	if _, err := out.Write(iv); err != nil {
		return 0, fmt.Errorf("write iv: %w", err)
	}
	writer := &stdcipher.StreamWriter{S: stdcipher.NewCTR(block, iv), W: out}
	written, err := io.CopyBuffer(writer, src, make([]byte, copyBufferSize))
	if err != nil {
		return 0, fmt.Errorf("encrypt payload: %w", err)
	}
	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("flush encrypted file: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close encrypted file: %w", err)
	}
	success = true
	return written + ivSize, nil
}

// Open returns a reader over the decrypted payload of an encrypted file. The
// caller must close the returned reader.
func (c *Codec) Open(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open encrypted file: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(file, iv); err != nil {
		file.Close()
		return nil, fmt.Errorf("read iv: %w", err)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &decryptReader{
		reader: stdcipher.StreamReader{S: stdcipher.NewCTR(block, iv), R: file},
		closer: file,
	}, nil
}

// DecryptToFile streams the decrypted payload of src into a plaintext file at
// dst, returning the plaintext size.
func (c *Codec) DecryptToFile(src, dst string) (int64, error) {
	reader, err := c.Open(src)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create decrypted file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			_ = out.Close()
			_ = os.Remove(dst)
		}
	}()

	written, err := io.CopyBuffer(out, reader, make([]byte, copyBufferSize))
	if err != nil {
		return 0, fmt.Errorf("decrypt payload: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close decrypted file: %w", err)
	}
	success = true
	return written, nil
}

type decryptReader struct {
	reader io.Reader
	closer io.Closer
}

func (r *decryptReader) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *decryptReader) Close() error {
	return r.closer.Close()
}
