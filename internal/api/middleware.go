package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// DeniedMessage is the plain-text body of a rejected request.
const DeniedMessage = "Acesso negado."

// allowList admits requests whose origin falls in one of the configured networks.
func (s *Server) allowList(next http.Handler) http.Handler {
	if len(s.cfg.AllowedNetworks) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.allowed(ip) {
			slog.Warn("Server.allowList: request denied", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(DeniedMessage))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowed(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.cfg.AllowedNetworks {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the first X-Forwarded-For hop, or the peer address,
// with any IPv4-mapped "::ffff:" prefix removed.
func clientIP(r *http.Request) string {
	ip := ""
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		ip = strings.TrimSpace(first)
	} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	} else {
		ip = r.RemoteAddr
	}
	return strings.TrimPrefix(ip, "::ffff:")
}
