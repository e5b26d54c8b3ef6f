// Package secrets encrypts configuration values with age so that tokens
// (dbt Cloud service tokens, model API keys) never sit in plaintext.
//
// A key file may hold several identities. The last one encrypts; every
// one of them decrypts, so a rotated key keeps older values readable until
// they are re-encrypted.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"filippo.io/age"

	"github.com/dohr-michael/dbtpilot/internal/config"
)

const (
	encPrefix = "ENC[age:"
	encSuffix = "]"
)

// ErrNotEncrypted is returned when decrypting a value that is not an
// ENC[age:...] blob.
var ErrNotEncrypted = errors.New("not an encrypted value")

// KeyPath returns the default key file: $DBTPILOT_PATH/.age-key.
func KeyPath() string {
	return filepath.Join(config.DbtpilotPath(), ".age-key")
}

// Keyring is the content of a key file, oldest identity first.
type Keyring struct {
	identities []*age.X25519Identity
}

// Recipient is the public key new values are encrypted for.
func (k *Keyring) Recipient() *age.X25519Recipient {
	return k.identities[len(k.identities)-1].Recipient()
}

// Len returns the number of identities.
func (k *Keyring) Len() int { return len(k.identities) }

func (k *Keyring) ageIdentities() []age.Identity {
	out := make([]age.Identity, len(k.identities))
	for i, id := range k.identities {
		out[i] = id
	}
	return out
}

// GenerateIdentity creates the key file with one identity. It reports
// false and leaves the file alone when it already exists.
func GenerateIdentity(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := appendIdentity(path); err != nil {
		return false, err
	}
	return true, nil
}

// RotateKey appends a fresh identity; it becomes the encryption key.
func RotateKey(path string) (*age.X25519Recipient, error) {
	if _, err := LoadKeyring(path); err != nil {
		return nil, err
	}
	if err := appendIdentity(path); err != nil {
		return nil, err
	}
	ring, err := LoadKeyring(path)
	if err != nil {
		return nil, err
	}
	return ring.Recipient(), nil
}

func appendIdentity(path string) error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generate age identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open age key: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "# created by dbtpilot on %s\n# public key: %s\n%s\n",
		time.Now().UTC().Format(time.RFC3339), identity.Recipient(), identity)
	if err != nil {
		return fmt.Errorf("write age key: %w", err)
	}
	return nil
}

// LoadKeyring reads every X25519 identity of a key file.
func LoadKeyring(path string) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read age key: %w", err)
	}
	parsed, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse age key %s: %w", path, err)
	}
	ring := &Keyring{}
	for _, id := range parsed {
		x, ok := id.(*age.X25519Identity)
		if !ok {
			return nil, fmt.Errorf("unsupported identity type %T in %s", id, path)
		}
		ring.identities = append(ring.identities, x)
	}
	if len(ring.identities) == 0 {
		return nil, fmt.Errorf("no identities found in %s", path)
	}
	return ring, nil
}

// Encrypt seals plaintext for the recipients and wraps it as ENC[age:...].
func Encrypt(plaintext string, recipients ...age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("age encrypt: %w", err)
	}
	return encPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + encSuffix, nil
}

// Decrypt opens an ENC[age:...] blob with any identity of the keyring.
func (k *Keyring) Decrypt(blob string) (string, error) {
	if !IsEncrypted(blob) {
		return "", ErrNotEncrypted
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob[len(encPrefix) : len(blob)-len(encSuffix)])
	if err != nil {
		return "", fmt.Errorf("decode encrypted value: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), k.ageIdentities()...)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether s is an ENC[age:...] blob.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, encPrefix) && strings.HasSuffix(s, encSuffix)
}

// NewDecrypter returns a config.Decrypter backed by the key file. The file
// is read on first use, so configs without encrypted values need no key.
func NewDecrypter(keyPath string) config.Decrypter {
	var (
		once    sync.Once
		ring    *Keyring
		loadErr error
	)
	return func(blob string) (string, error) {
		once.Do(func() { ring, loadErr = LoadKeyring(keyPath) })
		if loadErr != nil {
			return "", loadErr
		}
		return ring.Decrypt(blob)
	}
}

// EncryptWithKey encrypts plaintext for the current key of the key file.
func EncryptWithKey(plaintext, keyPath string) (string, error) {
	ring, err := LoadKeyring(keyPath)
	if err != nil {
		return "", err
	}
	return Encrypt(plaintext, ring.Recipient())
}

// Reencrypt rewrites every encrypted value of the .env file for the
// current key and returns the keys it touched.
func Reencrypt(dotenvPath, keyPath string) ([]string, error) {
	ring, err := LoadKeyring(keyPath)
	if err != nil {
		return nil, err
	}
	lines, err := readLines(dotenvPath)
	if err != nil {
		return nil, err
	}

	var touched []string
	for i, line := range lines {
		key, value, ok := strings.Cut(strings.TrimPrefix(strings.TrimSpace(line), "export "), "=")
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if !ok || !IsEncrypted(value) {
			continue
		}
		plain, err := ring.Decrypt(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", strings.TrimSpace(key), err)
		}
		blob, err := Encrypt(plain, ring.Recipient())
		if err != nil {
			return nil, err
		}
		key = strings.TrimSpace(key)
		lines[i] = key + "=" + blob
		touched = append(touched, key)
	}
	if len(touched) == 0 {
		return nil, nil
	}
	return touched, writeLines(dotenvPath, lines)
}
