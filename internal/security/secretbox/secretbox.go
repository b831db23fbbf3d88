// Package secretbox cifra material sensible en reposo (secretos de firma)
// con XChaCha20-Poly1305 y una clave maestra cargada desde el entorno.
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	secretBoxEnvVar   = "SECRETBOX_MASTER_KEY"
	requiredKeyLength = chacha20poly1305.KeySize // 32 bytes
	sep               = "|"                      // base64(nonce)|base64(ciphertext)
)

var (
	masterKey     []byte
	masterKeyOnce sync.Once
	loadErr       error
	mu            sync.RWMutex
)

// ensureLoaded carga la clave maestra desde SECRETBOX_MASTER_KEY (base64) una sola vez.
func ensureLoaded() error {
	masterKeyOnce.Do(func() {
		kb64 := strings.TrimSpace(os.Getenv(secretBoxEnvVar))
		if kb64 == "" {
			loadErr = fmt.Errorf("%s no seteada; genere una clave con: openssl rand -base64 32", secretBoxEnvVar)
			return
		}
		k, err := decodeKey(kb64)
		if err != nil {
			loadErr = fmt.Errorf("decode %s: %w", secretBoxEnvVar, err)
			return
		}
		mu.Lock()
		masterKey = k
		mu.Unlock()
	})
	return loadErr
}

func decodeKey(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	return nil, fmt.Errorf("la clave debe decodificar a %d bytes", requiredKeyLength)
}

// Ready expone si la clave está cargada (útil para healthchecks/config print).
func Ready() bool {
	mu.RLock()
	defer mu.RUnlock()
	return len(masterKey) == requiredKeyLength
}

// SetKeyForTesting inyecta una clave maestra sin pasar por el entorno.
// Solo para tests.
func SetKeyForTesting(key []byte) {
	mu.Lock()
	defer mu.Unlock()
	masterKeyOnce.Do(func() {})
	loadErr = nil
	masterKey = append([]byte(nil), key...)
}

func aead() (interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}, error) {
	if err := ensureLoaded(); err != nil {
		return nil, err
	}
	mu.RLock()
	key := append([]byte(nil), masterKey...)
	mu.RUnlock()
	return chacha20poly1305.NewX(key)
}

// Seal cifra plaintext y devuelve base64(nonce)|base64(ciphertext).
func Seal(plaintext []byte) (string, error) {
	box, err := aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}

	ct := box.Seal(nil, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Open recibe base64(nonce)|base64(ciphertext) y devuelve el plaintext.
func Open(sealed string) ([]byte, error) {
	box, err := aead()
	if err != nil {
		return nil, err
	}

	parts := strings.Split(sealed, sep)
	if len(parts) != 2 {
		return nil, errors.New("formato inválido: esperado base64(nonce)|base64(ciphertext)")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("nonce inválido: esperado %d bytes, obtuvo %d", chacha20poly1305.NonceSizeX, len(nonce))
	}

	pt, err := box.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("aead auth/decrypt: %w", err)
	}
	return pt, nil
}
