package httputil

import (
	"net/http"
	"time"
)

// NewMarketClient builds the shared client for upstream marketplace
// requests. Redirects are not followed; a redirect from the API host is
// treated as an error response by the caller.
func NewMarketClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
