package seed

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/zalando/go-keyring"
)

// ErrSecretNotFound is returned when no server seed is held for a session.
var ErrSecretNotFound = errors.New("seed: server seed not found")

// Vault holds unrevealed server seeds outside the player-facing round record.
// Keys are opaque to the vault; callers use one key per committed seed.
type Vault interface {
	Put(key, serverSeed string) error
	Get(key string) (string, error)
	Delete(key string) error
}

const defaultService = "plinko-fair"

// KeyringVault stores server seeds in the OS keychain with an optional file
// fallback for hosts where no keychain is available. The fallback file is
// shared safely between processes.
type KeyringVault struct {
	service      string
	fallbackPath string
	mu           sync.Mutex
}

// NewKeyringVault creates a keyring-backed vault.
func NewKeyringVault(serviceName, fallbackPath string) *KeyringVault {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = defaultService
	}
	return &KeyringVault{
		service:      serviceName,
		fallbackPath: fallbackPath,
	}
}

func (k *KeyringVault) account(key string) string {
	return fmt.Sprintf("%s/server-seed", key)
}

func (k *KeyringVault) Put(key, serverSeed string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("seed: vault key is required")
	}

	if err := keyring.Set(k.service, k.account(key), serverSeed); err == nil {
		return nil
	} else if !isKeyringUnavailable(err) {
		return fmt.Errorf("seed: keyring set: %w", err)
	}

	return k.setFallback(key, serverSeed)
}

func (k *KeyringVault) Get(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("seed: vault key is required")
	}

	val, err := keyring.Get(k.service, k.account(key))
	if err == nil {
		return val, nil
	}
	if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("seed: keyring get: %w", err)
	}

	fallback, ferr := k.getFallback(key)
	if ferr == nil {
		return fallback, nil
	}
	if errors.Is(ferr, ErrSecretNotFound) || errors.Is(err, keyring.ErrNotFound) {
		return "", ErrSecretNotFound
	}
	return "", ferr
}

// Delete removes the seed from the keychain and the fallback file.
func (k *KeyringVault) Delete(key string) error {
	err := keyring.Delete(k.service, k.account(key))
	ferr := k.deleteFallback(key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) && !isKeyringUnavailable(err) {
		return fmt.Errorf("seed: keyring delete: %w", err)
	}
	return ferr
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available")
}

type fallbackSecrets map[string]string

// withFallback runs fn with the fallback file locked against other
// processes. If fn returns changed data it is written back atomically.
func (k *KeyringVault) withFallback(fn func(data fallbackSecrets) (bool, error)) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(k.fallbackPath), 0o700); err != nil {
		return fmt.Errorf("seed: mkdir fallback dir: %w", err)
	}
	fl := flock.New(k.fallbackPath + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("seed: lock fallback secrets: %w", err)
	}
	defer fl.Unlock()

	data, err := k.readFallbackLocked()
	if err != nil {
		return err
	}
	changed, err := fn(data)
	if err != nil || !changed {
		return err
	}
	return k.writeFallbackLocked(data)
}

func (k *KeyringVault) setFallback(key, value string) error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return fmt.Errorf("seed: keyring unavailable and no fallback path configured")
	}
	return k.withFallback(func(data fallbackSecrets) (bool, error) {
		data[key] = value
		return true, nil
	})
}

func (k *KeyringVault) getFallback(key string) (string, error) {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return "", ErrSecretNotFound
	}
	var val string
	err := k.withFallback(func(data fallbackSecrets) (bool, error) {
		v, ok := data[key]
		if !ok {
			return false, ErrSecretNotFound
		}
		val = v
		return false, nil
	})
	return val, err
}

func (k *KeyringVault) deleteFallback(key string) error {
	if strings.TrimSpace(k.fallbackPath) == "" {
		return nil
	}
	return k.withFallback(func(data fallbackSecrets) (bool, error) {
		if _, ok := data[key]; !ok {
			return false, nil
		}
		delete(data, key)
		return true, nil
	})
}

func (k *KeyringVault) readFallbackLocked() (fallbackSecrets, error) {
	out := fallbackSecrets{}
	raw, err := os.ReadFile(k.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("seed: read fallback secrets: %w", err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("seed: decode fallback secrets: %w", err)
	}
	return out, nil
}

// writeFallbackLocked replaces the secrets file through a synced 0600 temp
// file in the same directory so readers never observe a partial write.
func (k *KeyringVault) writeFallbackLocked(data fallbackSecrets) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("seed: encode fallback secrets: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(k.fallbackPath), filepath.Base(k.fallbackPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("seed: write fallback secrets: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("seed: write fallback secrets: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("seed: sync fallback secrets: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("seed: write fallback secrets: %w", err)
	}
	if err := os.Rename(tmp.Name(), k.fallbackPath); err != nil {
		return fmt.Errorf("seed: replace fallback secrets: %w", err)
	}
	return nil
}

// MemoryVault keeps seeds in process memory. Seeds are lost on exit.
type MemoryVault struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{secrets: make(map[string]string)}
}

func (m *MemoryVault) Put(key, serverSeed string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("seed: vault key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = serverSeed
	return nil
}

func (m *MemoryVault) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.secrets[key]
	if !ok {
		return "", ErrSecretNotFound
	}
	return val, nil
}

func (m *MemoryVault) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, key)
	return nil
}
