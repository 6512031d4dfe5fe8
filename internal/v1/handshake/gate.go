// Package handshake implements the Handshake & Auth Gate: version
// negotiation and credential validation for the first frame on a freshly
// accepted connection.
package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trackmania-bingo/bingoserver/internal/v1/identity"
	"github.com/trackmania-bingo/bingoserver/internal/v1/logging"
	"github.com/trackmania-bingo/bingoserver/internal/v1/ratelimit"
	"github.com/trackmania-bingo/bingoserver/internal/v1/reconnect"
	"github.com/trackmania-bingo/bingoserver/internal/v1/transport"
	"github.com/trackmania-bingo/bingoserver/internal/v1/types"
)

// Outcome codes for the handshake response frame.
const (
	OutcomeOk                  = 0
	OutcomeParseError          = 1
	OutcomeIncompatibleVersion = 2
	OutcomeAuthFailure         = 3
	OutcomeAuthRefused         = 4
	OutcomeCanReconnect        = 5
	OutcomeRateLimited         = 6
)

type handshakeRequest struct {
	Version string `json:"version"`
	Token   string `json:"token"`
}

type handshakeResponse struct {
	Code     int    `json:"code"`
	Username string `json:"username,omitempty"`
}

// Gate validates the handshake frame on every accepted connection. It
// implements transport.Authenticator.
type Gate struct {
	validator types.IdentityValidator
	reconnect *reconnect.Registry
	limiter   *ratelimit.RateLimiter

	minMajor, minMinor int
	devMode            bool

	deadline      time.Duration
	maxFrameBytes int
}

var _ transport.Authenticator = (*Gate)(nil)

// NewGate constructs a handshake gate. reconnectRegistry may be nil to
// disable reconnect detection. limiter may be nil to disable the
// per-account connect-rate check; when set, it is consulted, keyed by the
// raw handshake token, before the identity service is ever called, so a
// token being replayed too fast degrades to a fast rejection rather than
// hammering the identity service. When devMode is true (no server secret
// configured) the gate synthesizes an identity from the raw token instead
// of calling the identity service; this is logged once at construction.
func NewGate(validator types.IdentityValidator, reconnectRegistry *reconnect.Registry, limiter *ratelimit.RateLimiter, minVersion string, devMode bool, deadline time.Duration, maxFrameBytes int) (*Gate, error) {
	minMajor, minMinor, _, err := parseVersion(minVersion)
	if err != nil {
		return nil, fmt.Errorf("handshake: invalid minimum version %q: %w", minVersion, err)
	}

	if devMode {
		logging.Warn(context.Background(), "identity server secret is not configured: handshake running in development bypass mode")
	}

	return &Gate{
		validator:     validator,
		reconnect:     reconnectRegistry,
		limiter:       limiter,
		minMajor:      minMajor,
		minMinor:      minMinor,
		devMode:       devMode,
		deadline:      deadline,
		maxFrameBytes: maxFrameBytes,
	}, nil
}

// Authenticate reads the first frame on conn, validates version and
// credentials, writes the handshake response, and returns the resolved
// identity on any outcome that should proceed to a live connection.
func (g *Gate) Authenticate(ctx context.Context, conn net.Conn) (transport.AuthResult, bool) {
	conn.SetReadDeadline(time.Now().Add(g.deadline))
	payload, err := transport.ReadFrame(conn, g.maxFrameBytes)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		logging.Info(ctx, "handshake frame read failed", zap.Error(err))
		return transport.AuthResult{}, false
	}

	var req handshakeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		g.respond(ctx, conn, OutcomeParseError, "")
		return transport.AuthResult{}, false
	}

	major, minor, _, err := parseVersion(req.Version)
	if err != nil {
		g.respond(ctx, conn, OutcomeParseError, "")
		return transport.AuthResult{}, false
	}
	if versionBelow(major, minor, g.minMajor, g.minMinor) {
		g.respond(ctx, conn, OutcomeIncompatibleVersion, "")
		return transport.AuthResult{}, false
	}

	if g.limiter != nil {
		if err := g.limiter.CheckAccount(ctx, req.Token); err != nil {
			logging.Info(ctx, "handshake rejected by account rate limiter")
			g.respond(ctx, conn, OutcomeRateLimited, "")
			return transport.AuthResult{}, false
		}
	}

	playerID, displayName, err := g.resolveIdentity(ctx, req.Token)
	if err != nil {
		var refused *identity.RefusedError
		if errors.As(err, &refused) {
			logging.Info(ctx, "identity service refused token", zap.String("reason", refused.Reason))
			g.respond(ctx, conn, OutcomeAuthRefused, "")
		} else {
			logging.Warn(ctx, "identity service call failed", zap.Error(err))
			g.respond(ctx, conn, OutcomeAuthFailure, "")
		}
		return transport.AuthResult{}, false
	}

	code := OutcomeOk
	var hint *transport.ReconnectHint
	if g.reconnect != nil {
		if rec, ok := g.reconnect.Reclaim(playerID); ok {
			code = OutcomeCanReconnect
			hint = &transport.ReconnectHint{RoomID: rec.RoomID, SlotIndex: rec.SlotIndex}
		}
	}

	g.respond(ctx, conn, code, string(displayName))

	return transport.AuthResult{
		Identity:  types.ClientInfo{PlayerID: playerID, DisplayName: displayName},
		Reconnect: hint,
	}, true
}

func (g *Gate) resolveIdentity(ctx context.Context, token string) (types.PlayerIDType, types.DisplayNameType, error) {
	if g.devMode {
		return types.PlayerIDType(token), types.DisplayNameType(token), nil
	}
	return g.validator.Validate(ctx, token)
}

func (g *Gate) respond(ctx context.Context, conn net.Conn, code int, username string) {
	payload, err := json.Marshal(handshakeResponse{Code: code, Username: username})
	if err != nil {
		logging.Error(ctx, "failed to marshal handshake response", zap.Error(err))
		return
	}

	conn.SetWriteDeadline(time.Now().Add(g.deadline))
	defer conn.SetWriteDeadline(time.Time{})

	if err := transport.WriteFrame(conn, payload); err != nil {
		logging.Info(ctx, "failed to write handshake response", zap.Error(err))
	}
}

// parseVersion parses "MAJOR.MINOR[-tag]"; tag is returned verbatim and is
// not used in ordering.
func parseVersion(v string) (major, minor int, tag string, err error) {
	rest := v
	if idx := strings.IndexByte(rest, '-'); idx >= 0 {
		tag = rest[idx+1:]
		rest = rest[:idx]
	}

	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return 0, 0, "", fmt.Errorf("malformed version %q", v)
	}

	major, err = strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return 0, 0, "", fmt.Errorf("malformed major version %q", v)
	}

	minor, err = strconv.Atoi(parts[1])
	if err != nil || minor < 0 {
		return 0, 0, "", fmt.Errorf("malformed minor version %q", v)
	}

	return major, minor, tag, nil
}

// versionBelow reports whether (major, minor) sorts strictly before
// (minMajor, minMinor), compared lexicographically.
func versionBelow(major, minor, minMajor, minMinor int) bool {
	if major != minMajor {
		return major < minMajor
	}
	return minor < minMinor
}
