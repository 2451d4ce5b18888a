package webhook

import (
	"errors"
	"log/slog"
	"net/http"
)

// Rejection is a refused admission: the reason goes back to the sender
// verbatim with the matching HTTP status. Never queued, never retried.
type Rejection struct {
	Status int
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

// Gatekeeper composes the admission pipeline: structural validation,
// origin allow-list, rate limit, then signature. Checks fail fast in
// that order.
type Gatekeeper struct {
	origin  *OriginGuard
	limiter *RateLimiter
	sig     *SignatureVerifier
	logger  *slog.Logger
}

func NewGatekeeper(origin *OriginGuard, limiter *RateLimiter, sig *SignatureVerifier, logger *slog.Logger) *Gatekeeper {
	return &Gatekeeper{origin: origin, limiter: limiter, sig: sig, logger: logger}
}

// Admit runs the full pipeline over a raw request. It returns the
// parsed event on acceptance, or a *Rejection.
func (g *Gatekeeper) Admit(body []byte, headers http.Header, sourceAddr string) (*Event, error) {
	ev, err := Parse(body)
	if err != nil {
		return nil, &Rejection{Status: http.StatusBadRequest, Reason: err.Error()}
	}

	if !g.origin.Allow(sourceAddr) {
		g.logger.Warn("webhook from unauthorized origin", "source", sourceAddr)
		return nil, &Rejection{Status: http.StatusForbidden, Reason: "unauthorized origin"}
	}

	if !g.limiter.Allow(sourceAddr) {
		g.logger.Warn("webhook rate limited", "source", sourceAddr)
		return nil, &Rejection{Status: http.StatusTooManyRequests, Reason: "rate limited"}
	}

	if err := g.sig.Verify(body, headers.Get(SignatureHeader)); err != nil {
		g.logger.Warn("webhook signature check failed", "source", sourceAddr, "error", err)
		reason := "invalid signature"
		if errors.Is(err, ErrMissingSignature) {
			reason = "missing signature"
		}
		return nil, &Rejection{Status: http.StatusUnauthorized, Reason: reason}
	}

	return ev, nil
}
