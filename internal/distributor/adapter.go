// Package distributor implements credential-authenticated lookups against
// third-party glass catalogs, one adapter per distributor, and the tier that
// fans a lookup out across the active adapters in priority order.
package distributor

import (
	"context"
	"time"

	"github.com/glasspoint/nags/internal/glass"
	"github.com/glasspoint/nags/internal/secret"
	"github.com/glasspoint/nags/internal/vin"
)

// Session is a time-bounded authenticated context with one distributor,
// exclusively owned by its adapter instance.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the session exists and has not expired.
func (s *Session) Valid() bool {
	return s != nil && time.Now().Before(s.ExpiresAt)
}

// Adapter is implemented once per distributor catalog. LookupParts must
// verify session validity and re-login before issuing the lookup request;
// SessionValid is a query with no side effects.
type Adapter interface {
	Name() string
	Login(ctx context.Context) error
	LookupParts(ctx context.Context, vehicle vin.Identity, positions []glass.Position) ([]glass.PartResult, error)
	SessionValid() bool
}

// Credential is a read-only view of one credential-store row. Its Active
// flag decides tier membership at lookup time.
type Credential struct {
	Distributor       string
	LoginURL          string
	Username          string
	EncryptedPassword string
	Active            bool
}

// CredentialSource reads the currently active credentials. Consulted at the
// start of every lookup, never cached, so credentials can be disabled
// without a restart.
type CredentialSource interface {
	ActiveCredentials(ctx context.Context) ([]Credential, error)
}

// Factory builds an adapter for one credential.
type Factory func(cred Credential, dec secret.Decryptor) Adapter

// DefaultRegistry maps distributor names to adapter factories.
func DefaultRegistry() map[string]Factory {
	return map[string]Factory{
		"pilkington": func(cred Credential, dec secret.Decryptor) Adapter { return NewPilkington(cred, dec) },
		"mygrant":    func(cred Credential, dec secret.Decryptor) Adapter { return NewMygrant(cred, dec) },
		"pgw":        func(cred Credential, dec secret.Decryptor) Adapter { return NewPGW(cred, dec) },
	}
}

// DefaultPriority is the fixed order adapters are tried in. Distributors
// not listed here sort last, stable among themselves.
var DefaultPriority = []string{"pilkington", "mygrant", "pgw"}
