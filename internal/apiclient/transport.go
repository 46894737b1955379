package apiclient

import (
	"net/http"

	"github.com/jwalitptl/clinic-portal/internal/session"
)

// authTransport is the only place that knows about bearer tokens and the only
// place that reacts to 401. Call sites never handle either.
type authTransport struct {
	base http.RoundTripper
}

func newAuthTransport(base http.RoundTripper) *authTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &authTransport{base: base}
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	sess, ok := session.FromContext(req.Context())
	if ok {
		if token := sess.Token(); token != "" {
			req = req.Clone(req.Context())
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && ok {
		sess.Expire(req.Context())
	}
	return resp, nil
}
