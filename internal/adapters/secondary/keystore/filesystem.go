// Package keystore provides SecureKeyStore implementations for the CA's root
// material.
package keystore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sufield/credo/internal/core/domain"
	"github.com/sufield/credo/internal/core/ports"
)

const (
	caCertFile = "ca-certificate.pem"
	caKeyFile  = "ca-private-key.pem"

	dirPerm  = 0o700
	filePerm = 0o600
)

// FilesystemStore persists the CA bundle as two PEM files under a directory.
// The key file is written 0600. Only the CA's material touches disk; workload
// keys never pass through here.
type FilesystemStore struct {
	dir string
}

// NewFilesystemStore creates the store rooted at dir, creating dir if absent.
func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("key store directory is required")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create key store directory %s: %w", dir, err)
	}
	return &FilesystemStore{dir: dir}, nil
}

// LoadCA implements ports.SecureKeyStore.
func (s *FilesystemStore) LoadCA(ctx context.Context) (*ports.CABundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	certPEM, err := os.ReadFile(filepath.Join(s.dir, caCertFile))
	if os.IsNotExist(err) {
		return nil, ports.ErrCANotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	keyPEM, err := os.ReadFile(filepath.Join(s.dir, caKeyFile))
	if os.IsNotExist(err) {
		return nil, ports.ErrCANotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CA private key: %w", err)
	}

	cert, err := domain.ParseCertificatePEM(string(certPEM))
	if err != nil {
		return nil, fmt.Errorf("stored CA certificate is corrupt: %w", err)
	}
	key, err := domain.ParsePrivateKeyPEM(string(keyPEM))
	if err != nil {
		return nil, fmt.Errorf("stored CA private key is corrupt: %w", err)
	}

	return &ports.CABundle{Certificate: cert, PrivateKey: key}, nil
}

// SaveCA implements ports.SecureKeyStore. Writes go through temp files plus
// rename so a crash cannot leave a half-written key on disk.
func (s *FilesystemStore) SaveCA(ctx context.Context, bundle *ports.CABundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bundle == nil || bundle.Certificate == nil || bundle.PrivateKey == nil {
		return fmt.Errorf("CA bundle is incomplete")
	}

	keyPEM, err := domain.EncodePrivateKeyPEM(bundle.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to encode CA private key: %w", err)
	}
	certPEM := domain.EncodeCertificatePEM(bundle.Certificate)

	if err := s.writeFile(caKeyFile, []byte(keyPEM)); err != nil {
		return err
	}
	return s.writeFile(caCertFile, []byte(certPEM))
}

func (s *FilesystemStore) writeFile(name string, data []byte) error {
	target := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions on %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return nil
}
