package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Common errors returned by the identity subsystem.
var (
	ErrMissingCaller    = errors.New("missing caller identity")
	ErrInvalidCaller    = errors.New("invalid caller address")
	ErrMissingSignature = errors.New("missing request signature")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("request timestamp outside acceptance window")
	ErrReplayed         = errors.New("request signature already used")
	ErrNotOwner         = errors.New("caller is not the owner")
)

// Request headers carrying the caller identity.
const (
	HeaderCaller    = "X-Caller"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// Mode enumerates the supported authentication providers.
type Mode string

const (
	// ModeSignature requires every request to carry a secp256k1 signature.
	ModeSignature Mode = "signature"
	// ModeTrusted accepts the X-Caller header verbatim. Development only.
	ModeTrusted Mode = "trusted"
)

// Authenticator resolves the caller of an HTTP request. The body has already
// been read by the caller so that it can be covered by the signature.
type Authenticator interface {
	Authenticate(r *http.Request, body []byte) (common.Address, error)
}

// Authorizer performs the owner capability check for mutating operations.
type Authorizer interface {
	AuthorizeOwner(ctx context.Context, owner common.Address) error
}

// NewAuthenticator builds the authenticator for the configured mode. window
// only applies to ModeSignature.
func NewAuthenticator(mode Mode, window time.Duration) (Authenticator, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(string(mode)))) {
	case "", ModeSignature:
		return NewSignatureAuthenticator(window), nil
	case ModeTrusted:
		return TrustedAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", mode)
	}
}

// OwnerAuthorizer compares the caller stored in the context with the owner.
type OwnerAuthorizer struct{}

// AuthorizeOwner implements Authorizer.
func (OwnerAuthorizer) AuthorizeOwner(ctx context.Context, owner common.Address) error {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return ErrMissingCaller
	}
	if caller != owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	return nil
}

// TrustedAuthenticator takes the caller from the X-Caller header.
type TrustedAuthenticator struct{}

// Authenticate implements Authenticator.
func (TrustedAuthenticator) Authenticate(r *http.Request, _ []byte) (common.Address, error) {
	return parseCaller(r.Header.Get(HeaderCaller))
}

func parseCaller(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, ErrMissingCaller
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidCaller, raw)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, ErrInvalidCaller
	}
	return addr, nil
}
