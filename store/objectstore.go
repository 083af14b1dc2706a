package store

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore holds the uploaded binaries. Keys are flat strings chosen
// by the caller (document id + extension).
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	SignedURL(key string, ttl time.Duration) (string, error)
}

// DiskStore keeps objects under a single directory and signs download
// URLs with an HMAC so the blob route can serve them without sessions.
type DiskStore struct {
	root    string
	baseURL string
	secret  []byte
}

func NewDiskStore(root, baseURL string, secret []byte) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	return &DiskStore{root: root, baseURL: baseURL, secret: secret}, nil
}

func (s *DiskStore) path(key string) (string, error) {
	clean := filepath.Base(filepath.Clean(key))
	if clean == "." || clean == ".." || clean == "" || clean != key {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *DiskStore) Put(ctx context.Context, key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *DiskStore) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, ErrObjectNotFound
	}
	return data, err
}

func (s *DiskStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *DiskStore) SignedURL(key string, ttl time.Duration) (string, error) {
	if _, err := s.path(key); err != nil {
		return "", err
	}
	exp := time.Now().Add(ttl).Unix()
	sig := s.sign(key, exp)
	return fmt.Sprintf("%s/%s?exp=%d&sig=%s", strings.TrimSuffix(s.baseURL, "/"), key, exp, sig), nil
}

// VerifySignature checks a signed download request. Used by the blob
// serving route.
func (s *DiskStore) VerifySignature(key, expStr, sig string) bool {
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return false
	}
	if time.Now().Unix() > exp {
		return false
	}
	want := s.sign(key, exp)
	return hmac.Equal([]byte(want), []byte(sig))
}

func (s *DiskStore) sign(key string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", key, exp)
	return hex.EncodeToString(mac.Sum(nil))
}
