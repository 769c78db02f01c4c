package signer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/google/renameio"

	"github.com/oshokin/xbps-builder/internal/config"
	"github.com/oshokin/xbps-builder/internal/domain/pkgerr"
	"github.com/oshokin/xbps-builder/internal/logger"
)

// SignatureSuffix is appended to the package path to name its detached signature.
const SignatureSuffix = ".sig"

var (
	errNoSigningKey    = errors.New("key file holds no private signing key")
	errEncryptedKey    = errors.New("private key is encrypted and no passphrase was provided")
	errBadSignature    = errors.New("signature verification failed")
	errEmptyPassphrase = errors.New("passphrase environment variable is empty")
)

// Signer writes armored detached OpenPGP signatures.
type Signer struct {
	entity *openpgp.Entity
}

// FromConfig loads the signing key named in the settings.
// It returns nil without error when signing is not configured.
func FromConfig(cfg config.Sign) (*Signer, error) {
	if cfg.KeyFile == "" {
		return nil, nil //nolint:nilnil // Signing is optional.
	}

	var passphrase []byte

	if cfg.PassphraseEnv != "" {
		value := os.Getenv(cfg.PassphraseEnv)
		if value == "" {
			return nil, fmt.Errorf("%w: %s", errEmptyPassphrase, cfg.PassphraseEnv)
		}

		passphrase = []byte(value)
	}

	return Load(cfg.KeyFile, passphrase)
}

// Load reads the first private key of an armored key ring, decrypting it with passphrase if needed.
func Load(keyFile string, passphrase []byte) (*Signer, error) {
	f, err := os.Open(filepath.Clean(keyFile))
	if err != nil {
		return nil, pkgerr.IO("open signing key", err)
	}

	defer func() {
		_ = f.Close()
	}()

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("read signing key %s: %w", keyFile, err)
	}

	for _, entity := range keyring {
		if entity.PrivateKey == nil {
			continue
		}

		if entity.PrivateKey.Encrypted {
			if len(passphrase) == 0 {
				return nil, errEncryptedKey
			}

			if err = entity.DecryptPrivateKeys(passphrase); err != nil {
				return nil, fmt.Errorf("decrypt signing key: %w", err)
			}
		}

		return &Signer{entity: entity}, nil
	}

	return nil, errNoSigningKey
}

// Fingerprint returns the hex fingerprint of the signing key.
func (s *Signer) Fingerprint() string {
	return fmt.Sprintf("%X", s.entity.PrimaryKey.Fingerprint)
}

// SignFile writes path+".sig" next to the file and returns the signature path.
func (s *Signer) SignFile(ctx context.Context, path string) (string, error) {
	ctx = logger.WithName(ctx, "signer")
	sigPath := path + SignatureSuffix

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", pkgerr.IO("open "+path, err)
	}

	defer func() {
		_ = f.Close()
	}()

	pending, err := renameio.TempFile("", sigPath)
	if err != nil {
		return "", pkgerr.IO("create pending signature", err)
	}

	defer func() {
		_ = pending.Cleanup()
	}()

	if err = s.Sign(pending, f); err != nil {
		return "", err
	}

	if err = pending.Chmod(0o644); err != nil {
		return "", pkgerr.IO("set signature mode", err)
	}

	if err = pending.CloseAtomicallyReplace(); err != nil {
		return "", pkgerr.IO("publish signature", err)
	}

	logger.InfoKV(ctx, "Package signed", "signature", sigPath, "key", s.Fingerprint())

	return sigPath, nil
}

// Sign writes an armored detached signature of message to w.
func (s *Signer) Sign(w io.Writer, message io.Reader) error {
	if err := openpgp.ArmoredDetachSign(w, s.entity, message, nil); err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	return nil
}

// VerifyFile checks the detached signature of path against an armored public key ring.
// It returns the fingerprint of the signing key.
func VerifyFile(keyring io.Reader, path, sigPath string) (string, error) {
	keys, err := openpgp.ReadArmoredKeyRing(keyring)
	if err != nil {
		return "", fmt.Errorf("read key ring: %w", err)
	}

	signed, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", pkgerr.IO("open "+path, err)
	}

	defer func() {
		_ = signed.Close()
	}()

	signature, err := os.Open(filepath.Clean(sigPath))
	if err != nil {
		return "", pkgerr.IO("open "+sigPath, err)
	}

	defer func() {
		_ = signature.Close()
	}()

	entity, err := openpgp.CheckArmoredDetachedSignature(keys, signed, signature, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errBadSignature, err)
	}

	return fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint), nil
}
