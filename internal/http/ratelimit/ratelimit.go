// Package ratelimit provides per-client-IP token bucket limiting for the
// public endpoints (OAuth callback, webhook receiver).
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxClients bounds the limiter map so an address-spraying client cannot grow
// it without limit.
const maxClients = 10000

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per client IP. Forwarding headers are
// honored only when the direct peer is a trusted proxy.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client

	rate    rate.Limit
	burst   int
	idleTTL time.Duration
	proxies []*net.IPNet
}

// New builds a limiter allowing r requests per second with the given burst.
// Entries idle longer than idleTTL are dropped by a background sweep.
// trustedProxies holds CIDRs or plain IPs of reverse proxies whose
// X-Forwarded-For / X-Real-IP headers may be believed.
func New(r rate.Limit, burst int, idleTTL time.Duration, trustedProxies []string) *Limiter {
	l := &Limiter{
		clients: make(map[string]*client),
		rate:    r,
		burst:   burst,
		idleTTL: idleTTL,
	}
	for _, entry := range trustedProxies {
		if ipnet := parseCIDROrIP(entry); ipnet != nil {
			l.proxies = append(l.proxies, ipnet)
		}
	}
	go l.sweep()
	return l
}

func parseCIDROrIP(s string) *net.IPNet {
	if _, ipnet, err := net.ParseCIDR(s); err == nil {
		return ipnet
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	bits := 128
	if ip.To4() != nil {
		bits = 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
}

// Middleware rejects over-limit requests with 429.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(l.clientIP(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *Limiter) allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		if len(l.clients) >= maxClients {
			l.evictOldestLocked()
		}
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	return c.limiter.Allow()
}

func (l *Limiter) evictOldestLocked() {
	var oldestIP string
	var oldest time.Time
	for ip, c := range l.clients {
		if oldestIP == "" || c.lastSeen.Before(oldest) {
			oldestIP, oldest = ip, c.lastSeen
		}
	}
	delete(l.clients, oldestIP)
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-l.idleTTL)
		l.mu.Lock()
		for ip, c := range l.clients {
			if c.lastSeen.Before(cutoff) {
				delete(l.clients, ip)
			}
		}
		l.mu.Unlock()
	}
}

// clientIP resolves the originating address. Requests arriving through a
// trusted proxy use the leftmost X-Forwarded-For entry, then X-Real-IP;
// everything else is pinned to the socket peer.
func (l *Limiter) clientIP(r *http.Request) string {
	peer := parseAddr(r.RemoteAddr)
	if peer == nil {
		return r.RemoteAddr
	}

	if !l.trusted(peer) {
		return peer.String()
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return ip.String()
		}
	}
	return peer.String()
}

func (l *Limiter) trusted(ip net.IP) bool {
	for _, ipnet := range l.proxies {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

func parseAddr(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}
