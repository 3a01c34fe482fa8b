package identity

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// DefaultSignatureWindow bounds how far X-Timestamp may drift from the
	// server clock in either direction.
	DefaultSignatureWindow = 5 * time.Minute
	// replayCacheSize caps the number of remembered signed requests.
	replayCacheSize = 1 << 16
)

// SignatureAuthenticator verifies that the X-Signature header is a valid
// secp256k1 signature by the X-Caller address over SigningHash, that the
// signed X-Timestamp lies within the acceptance window and that the same
// signed request has not been accepted before.
type SignatureAuthenticator struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen lru.BasicLRU[common.Hash, int64]
}

// NewSignatureAuthenticator returns an authenticator accepting timestamps
// within window of the local clock. A non-positive window selects
// DefaultSignatureWindow.
func NewSignatureAuthenticator(window time.Duration) *SignatureAuthenticator {
	if window <= 0 {
		window = DefaultSignatureWindow
	}
	return &SignatureAuthenticator{
		window: window,
		now:    time.Now,
		seen:   lru.NewBasicLRU[common.Hash, int64](replayCacheSize),
	}
}

// Authenticate implements Authenticator.
func (a *SignatureAuthenticator) Authenticate(r *http.Request, body []byte) (common.Address, error) {
	caller, err := parseCaller(r.Header.Get(HeaderCaller))
	if err != nil {
		return common.Address{}, err
	}
	rawSig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if rawSig == "" {
		return common.Address{}, ErrMissingSignature
	}
	ts, err := parseTimestamp(r.Header.Get(HeaderTimestamp))
	if err != nil {
		return common.Address{}, err
	}
	now := a.now()
	if skew := now.Sub(time.UnixMilli(ts)); skew > a.window || skew < -a.window {
		return common.Address{}, fmt.Errorf("%w: skew %s", ErrStaleTimestamp, skew.Round(time.Millisecond))
	}
	sig, err := hexutil.Decode(rawSig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	hash := SigningHash(r.Method, r.URL.Path, ts, body)
	signer, err := RecoverSigner(hash, sig)
	if err != nil {
		return common.Address{}, err
	}
	if signer != caller {
		return common.Address{}, fmt.Errorf("%w: signed by %s", ErrInvalidSignature, signer.Hex())
	}
	// 以 (caller, 签名摘要) 去重，签名本身的可延展形式不影响结果。
	if err := a.remember(crypto.Keccak256Hash(caller.Bytes(), hash), ts); err != nil {
		return common.Address{}, err
	}
	return caller, nil
}

func (a *SignatureAuthenticator) remember(key common.Hash, ts int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen.Contains(key) {
		return ErrReplayed
	}
	a.seen.Add(key, ts)
	return nil
}

func parseTimestamp(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ts <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrStaleTimestamp, raw)
	}
	return ts, nil
}

// SigningHash is keccak256(method || path || uint64be(timestamp) || body),
// where timestamp is the X-Timestamp value in unix milliseconds.
func SigningHash(method, path string, timestamp int64, body []byte) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	return crypto.Keccak256([]byte(strings.ToUpper(method)), []byte(path), ts[:], body)
}

// Sign produces the X-Signature header value for a request stamped with
// timestamp (unix milliseconds).
func Sign(key *ecdsa.PrivateKey, method, path string, timestamp int64, body []byte) (string, error) {
	sig, err := crypto.Sign(SigningHash(method, path, timestamp, body), key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// SignRequest stamps r with the current time and sets the identity headers.
func SignRequest(r *http.Request, key *ecdsa.PrivateKey, body []byte) error {
	ts := time.Now().UnixMilli()
	sig, err := Sign(key, r.Method, r.URL.Path, ts, body)
	if err != nil {
		return err
	}
	r.Header.Set(HeaderCaller, crypto.PubkeyToAddress(key.PublicKey).Hex())
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	r.Header.Set(HeaderSignature, sig)
	return nil
}

// RecoverSigner returns the address that produced sig over hash. Both the
// 0/1 and the 27/28 recovery id conventions are accepted.
func RecoverSigner(hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	normalised := append([]byte(nil), sig...)
	if normalised[crypto.RecoveryIDOffset] >= 27 {
		normalised[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, normalised)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
