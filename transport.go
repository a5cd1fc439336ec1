package bifrost

import (
	"errors"
	"io"
	"net/http"
)

// retryMarkerHeader marks a request that has already been replayed after a
// refresh, so no request ever goes through the retry path twice.
const retryMarkerHeader = "X-Bifrost-Retry"

// authTransport decorates a base RoundTripper: it attaches the current
// bearer token to every outgoing request and, on a 401 or 403, performs
// exactly one refresh-and-replay of the original request.
type authTransport struct {
	controller *Bifrost
	base       http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	out := req.Clone(req.Context())
	if token := t.controller.Token(); token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := base.RoundTrip(out)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}
	if req.Header.Get(retryMarkerHeader) != "" {
		return resp, nil
	}
	// A consumed one-shot body cannot be replayed.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	sess, rerr := t.controller.RefreshToken(req.Context())
	if sess == nil {
		if !errors.Is(rerr, ErrRefreshLocked) {
			// The session is gone for good; surface the original
			// error and let consumers react to the expiry.
			if cerr := t.controller.creds.Clear(); cerr != nil {
				t.controller.log.Warn().Err(cerr).Msg("failed to clear credentials after unrecovered auth failure")
			}
			t.controller.bus.emit(EventTokenExpired, nil)
		}
		return resp, nil
	}

	replay := req.Clone(req.Context())
	replay.Header.Set(retryMarkerHeader, "1")
	replay.Header.Set("Authorization", "Bearer "+sess.Token)
	if req.GetBody != nil {
		body, berr := req.GetBody()
		if berr != nil {
			return resp, nil
		}
		replay.Body = body
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	t.controller.log.Debug().Str("url", req.URL.Path).Msg("replaying request with refreshed token")
	return base.RoundTrip(replay)
}
