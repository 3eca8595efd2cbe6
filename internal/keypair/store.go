// Copyright (c) 2026 Keymaster Team
// Clustertrust - SSH trust provisioning for cluster deployments
// This source code is licensed under the MIT license found in the LICENSE file.

// Package keypair owns the cluster identity keypair on local storage.
//
// The pair lives under a configurable directory with fixed file names. It is
// generated once, on the first provisioning run, and reused unchanged on every
// later run. Generation is serialized with an exclusive file lock so that
// concurrent runs, in one process or several, never produce two pairs.
package keypair

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/toeirei/clustertrust/internal/logging"
	"github.com/toeirei/clustertrust/internal/model"
	"golang.org/x/crypto/ssh"
)

const (
	// PrivateKeyFile is the file name of the private half.
	PrivateKeyFile = "id_ed25519_cluster"
	// PublicKeyFile is the file name of the public half.
	PublicKeyFile = PrivateKeyFile + ".pub"

	lockFile = "." + PrivateKeyFile + ".lock"

	// DefaultComment is appended to the generated public key.
	DefaultComment = "clustertrust"

	defaultLockRetry = 50 * time.Millisecond
)

// Store manages the keypair files under a single directory.
type Store struct {
	dir       string
	comment   string
	lockRetry time.Duration
}

// Option customizes a Store.
type Option func(*Store)

// WithComment sets the comment written after newly generated public keys.
func WithComment(comment string) Option {
	return func(s *Store) { s.comment = comment }
}

// WithLockRetry sets how often a blocked generation retries the lock.
func WithLockRetry(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockRetry = d
		}
	}
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, comment: DefaultComment, lockRetry: defaultLockRetry}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the key directory.
func (s *Store) Dir() string { return s.dir }

// Paths returns the private and public key file paths.
func (s *Store) Paths() (privatePath, publicPath string) {
	return filepath.Join(s.dir, PrivateKeyFile), filepath.Join(s.dir, PublicKeyFile)
}

func (s *Store) lock() *flock.Flock {
	return flock.New(filepath.Join(s.dir, lockFile))
}

// Load reads and validates an existing keypair without creating anything.
// A missing pair yields a *model.StorageError wrapping fs.ErrNotExist.
func (s *Store) Load() (model.Keypair, error) {
	privPath, pubPath := s.Paths()

	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		return model.Keypair{}, &model.StorageError{Op: "read", Path: privPath, Err: err}
	}
	pub, err := os.ReadFile(pubPath)
	if err != nil {
		return model.Keypair{}, &model.StorageError{Op: "read", Path: pubPath, Err: err}
	}
	return validate(privPath, pubPath, privPEM, pub)
}

// Ensure returns the cluster keypair, generating and persisting it first if
// the directory does not hold one yet. An existing pair is returned byte for
// byte as stored and is never regenerated.
func (s *Store) Ensure(ctx context.Context) (model.Keypair, error) {
	kp, err := s.Load()
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return model.Keypair{}, err
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return model.Keypair{}, &model.StorageError{Op: "mkdir", Path: s.dir, Err: err}
	}

	lock := s.lock()
	lockPath := lock.Path()
	locked, err := lock.TryLockContext(ctx, s.lockRetry)
	if err != nil {
		return model.Keypair{}, &model.StorageError{Op: "lock", Path: lockPath, Err: err}
	}
	if !locked {
		return model.Keypair{}, &model.StorageError{Op: "lock", Path: lockPath, Err: errors.New("lock not acquired")}
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil {
			logging.Warnf("failed to release keypair lock %s: %v", lockPath, uerr)
		}
	}()

	// Another run may have finished generation while we waited for the lock.
	kp, err = s.Load()
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return model.Keypair{}, err
	}

	privPath, pubPath := s.Paths()
	privPEM, readErr := os.ReadFile(privPath)
	switch {
	case readErr == nil:
		// A previous run stopped between the two writes; finish it from the
		// private half instead of replacing the identity.
		signer, perr := ssh.ParsePrivateKey(privPEM)
		if perr != nil {
			return model.Keypair{}, &model.StorageError{Op: "parse", Path: privPath, Err: perr}
		}
		logging.Warnf("public key %s missing, restoring it from %s", pubPath, privPath)
		if err := writeFileAtomic(pubPath, authorizedKeyLine(signer.PublicKey(), s.comment), 0o644); err != nil {
			return model.Keypair{}, err
		}
	case errors.Is(readErr, fs.ErrNotExist):
		if _, statErr := os.Stat(pubPath); statErr == nil {
			return model.Keypair{}, &model.StorageError{Op: "read", Path: privPath, Err: fmt.Errorf("public key present without its private key: %w", readErr)}
		}
		pub, priv, gerr := GenerateAndMarshalEd25519Key(s.comment)
		if gerr != nil {
			return model.Keypair{}, &model.StorageError{Op: "generate", Path: privPath, Err: gerr}
		}
		if err := writeFileAtomic(privPath, priv, 0o600); err != nil {
			return model.Keypair{}, err
		}
		if err := writeFileAtomic(pubPath, pub, 0o644); err != nil {
			return model.Keypair{}, err
		}
		logging.Infof("generated cluster keypair in %s", s.dir)
	default:
		return model.Keypair{}, &model.StorageError{Op: "read", Path: privPath, Err: readErr}
	}

	return s.Load()
}

// validate checks that both halves parse and belong together.
func validate(privPath, pubPath string, privPEM, pub []byte) (model.Keypair, error) {
	signer, err := ssh.ParsePrivateKey(privPEM)
	if err != nil {
		return model.Keypair{}, &model.StorageError{Op: "parse", Path: privPath, Err: err}
	}
	pubKey, _, _, _, err := ssh.ParseAuthorizedKey(pub)
	if err != nil {
		return model.Keypair{}, &model.StorageError{Op: "parse", Path: pubPath, Err: err}
	}
	if !bytes.Equal(signer.PublicKey().Marshal(), pubKey.Marshal()) {
		return model.Keypair{}, &model.StorageError{Op: "verify", Path: pubPath, Err: errors.New("public key does not match private key")}
	}
	return model.Keypair{
		PrivateKeyPEM: privPEM,
		PublicKey:     pub,
		Fingerprint:   ssh.FingerprintSHA256(pubKey),
	}, nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it into place, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &model.StorageError{Op: "create", Path: path, Err: err}
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err = f.Chmod(perm); err != nil {
		return &model.StorageError{Op: "chmod", Path: tmp, Err: err}
	}
	if _, err = f.Write(data); err != nil {
		return &model.StorageError{Op: "write", Path: tmp, Err: err}
	}
	if err = f.Sync(); err != nil {
		return &model.StorageError{Op: "sync", Path: tmp, Err: err}
	}
	if err = f.Close(); err != nil {
		return &model.StorageError{Op: "close", Path: tmp, Err: err}
	}
	if err = os.Rename(tmp, path); err != nil {
		return &model.StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
