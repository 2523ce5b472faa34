package token

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
)

// Token is an opaque, persistable reference to a filesystem resource. The
// payload is produced by the platform's resource-access subsystem and is never
// interpreted by application logic; only a Provider knows how to activate or
// resolve it. Tokens are immutable; refreshing a stale token produces a new
// Token value.
type Token struct {
	// Payload is the platform-issued opaque blob.
	Payload []byte
	// Path is the logical filesystem path the token denotes.
	Path string
	// Stale reports whether the token must be re-issued before the next
	// activation.
	Stale bool
	// CreatedAt records when the token was first issued.
	CreatedAt time.Time
}

// Provider is the platform resource-access subsystem. It is consumed only by
// the ledger; no other component may activate or deactivate a grant.
type Provider interface {
	// Issue creates a fresh token for path.
	Issue(path string) (Token, error)

	// Resolve validates a token, returning an equivalent token with the
	// Stale flag set accurately. Resolve never mutates its argument.
	Resolve(t Token) (Token, error)

	// Activate starts the platform grant carried by the token. Returns
	// false when the platform refuses access.
	Activate(t Token) bool

	// Deactivate releases the platform grant. Safe to call on a token whose
	// grant is not active.
	Deactivate(t Token)
}

// Fingerprint returns a short stable identifier for a token payload, suitable
// for log fields and journal rows. The payload itself never appears in output.
func Fingerprint(t Token) string {
	sum := blake3.Sum256(t.Payload)
	return hex.EncodeToString(sum[:])[:16]
}
