package opshttp

import (
	"net/http"
	"net/netip"

	"github.com/keithlinneman/middleware-demo/internal/log"
)

// requireNonPublicNetwork answers 403 to peers outside loopback, private and
// link-local ranges. It checks the socket peer only, forwarding headers are
// never consulted here.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ap, err := netip.ParseAddrPort(r.RemoteAddr)
		if err != nil || !nonPublic(ap.Addr()) {
			L.Warn(r.Context(), "ops request from public network rejected",
				"client.address", r.RemoteAddr,
				"url.path", r.URL.Path,
			)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func nonPublic(a netip.Addr) bool {
	a = a.Unmap()
	return a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalUnicast()
}
