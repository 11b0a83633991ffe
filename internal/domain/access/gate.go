package access

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net"
	"strings"
	"time"

	"portalsync/internal/domain/audit"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/exp/slog"
)

const HeaderAPIKey = "x-api-key"

var (
	ErrMissingKey    = errors.New("Missing API key")
	ErrInvalidKey    = errors.New("Invalid API key")
	ErrMisconfigured = errors.New("Server configuration error")
)

// KeySet is the immutable allow-list of service keys, held as digests.
type KeySet struct {
	digests [][blake2b.Size256]byte
}

func NewKeySet(keys []string) *KeySet {
	ks := &KeySet{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			ks.digests = append(ks.digests, blake2b.Sum256([]byte(k)))
		}
	}
	return ks
}

func (k *KeySet) Len() int {
	if k == nil {
		return 0
	}
	return len(k.digests)
}

// Fingerprint identifies a key in logs without revealing it.
func Fingerprint(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

// Request is what the gate needs from an inbound call.
type Request struct {
	APIKey       string
	ForwardedFor string
	RealIP       string
	RemoteAddr   string
	Action       string
	Detail       map[string]any
}

type Result struct {
	Valid bool
	Err   error
	IP    string
}

// Error returns the caller facing message, empty when valid.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

type Gate struct {
	keys    *KeySet
	auditor audit.Logger
	log     *slog.Logger
	now     func() time.Time
	compare func(x, y []byte) int
}

func NewGate(keys *KeySet, auditor audit.Logger, log *slog.Logger) *Gate {
	return &Gate{
		keys:    keys,
		auditor: auditor,
		log:     log.With(slog.String("component", "access_gate")),
		now:     time.Now,
		compare: subtle.ConstantTimeCompare,
	}
}

// Check validates the presented key and writes exactly one audit entry.
func (g *Gate) Check(ctx context.Context, req Request) Result {
	res := Result{IP: ClientIP(req.ForwardedFor, req.RealIP, req.RemoteAddr)}

	switch {
	case g.keys.Len() == 0:
		res.Err = ErrMisconfigured
		g.log.Error("no API keys configured", slog.String("action", req.Action))
	case req.APIKey == "":
		res.Err = ErrMissingKey
	case !g.match(req.APIKey):
		res.Err = ErrInvalidKey
	default:
		res.Valid = true
	}

	detail := make(map[string]any, len(req.Detail)+2)
	for k, v := range req.Detail {
		detail[k] = v
	}
	if req.APIKey != "" {
		detail["key"] = Fingerprint(req.APIKey)
	}
	if res.Err != nil {
		detail["reason"] = res.Err.Error()
	}

	if err := g.auditor.Log(ctx, audit.Entry{
		Timestamp: g.now().UTC(),
		IP:        res.IP,
		Action:    req.Action,
		Success:   res.Valid,
		Detail:    detail,
	}); err != nil {
		g.log.Error("audit write failed", slog.String("error", err.Error()))
	}

	return res
}

// match compares the presented key against every configured key. Both sides
// are reduced to fixed-size digests so the comparison cost does not depend on
// the presented length, and the loop never exits early.
func (g *Gate) match(presented string) bool {
	sum := blake2b.Sum256([]byte(presented))
	found := 0
	for i := range g.keys.digests {
		found |= g.compare(sum[:], g.keys.digests[i][:])
	}
	return found == 1
}

// ClientIP picks the caller address: first X-Forwarded-For hop, then
// X-Real-IP, then the socket peer without its port.
func ClientIP(forwardedFor, realIP, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP = strings.TrimSpace(realIP); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
