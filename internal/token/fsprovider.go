package token

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/mpy-dev-ml/scopegate/internal/log"
)

// fsPayload is the opaque blob carried by filesystem tokens. It pins the
// resource to a device/inode pair so a replaced file invalidates old tokens.
type fsPayload struct {
	Path     string    `json:"path"`
	Device   uint64    `json:"device"`
	Inode    uint64    `json:"inode"`
	IssuedAt time.Time `json:"issued_at"`
}

// FSProvider issues and activates tokens for local filesystem paths. A token
// goes stale when the file it was issued against no longer exists or has been
// replaced by a different inode.
type FSProvider struct{}

// NewFSProvider creates a filesystem token provider.
func NewFSProvider() *FSProvider {
	return &FSProvider{}
}

func statIdentity(path string) (dev, ino uint64, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, fmt.Errorf("stat %s: no inode information", path)
	}
	return uint64(st.Dev), st.Ino, nil
}

// Issue creates a fresh token pinned to the path's current inode.
func (p *FSProvider) Issue(path string) (Token, error) {
	dev, ino, err := statIdentity(path)
	if err != nil {
		return Token{}, fmt.Errorf("issue token for %s: %w", path, err)
	}
	now := time.Now().UTC()
	payload, err := json.Marshal(fsPayload{
		Path:     path,
		Device:   dev,
		Inode:    ino,
		IssuedAt: now,
	})
	if err != nil {
		return Token{}, fmt.Errorf("encode token payload: %w", err)
	}
	return Token{
		Payload:   payload,
		Path:      path,
		Stale:     false,
		CreatedAt: now,
	}, nil
}

// Resolve checks whether the token still refers to the same inode and returns
// a copy with the Stale flag set accurately.
func (p *FSProvider) Resolve(t Token) (Token, error) {
	var pl fsPayload
	if err := json.Unmarshal(t.Payload, &pl); err != nil {
		return Token{}, fmt.Errorf("decode token payload for %s: %w", t.Path, err)
	}

	out := t
	dev, ino, err := statIdentity(t.Path)
	if err != nil || dev != pl.Device || ino != pl.Inode {
		out.Stale = true
		return out, nil
	}
	out.Stale = false
	return out, nil
}

// Activate verifies the path is readable. Filesystem access needs no explicit
// platform grant, so a successful probe is the activation.
func (p *FSProvider) Activate(t Token) bool {
	if t.Stale {
		return false
	}
	f, err := os.Open(t.Path)
	if err != nil {
		log.WithPath(t.Path).Warn("token activation refused", "error", err)
		return false
	}
	_ = f.Close()
	return true
}

// Deactivate releases the grant. Nothing to tear down for plain filesystem
// access.
func (p *FSProvider) Deactivate(t Token) {}
