package server

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	authMaxFailures = 10
	authWindow      = time.Minute
	authBlock       = 5 * time.Minute
	maxTrackedIPs   = 1000
)

// limiter tracks per-client request rates and failed API key attempts.
type limiter struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	clients  map[string]*client
	failures map[string]*authFailures
	now      func() time.Time
}

type client struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type authFailures struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
}

func newLimiter(rps float64, burst int) *limiter {
	if burst < 1 {
		burst = 1
	}
	return &limiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		clients:  make(map[string]*client),
		failures: make(map[string]*authFailures),
		now:      time.Now,
	}
}

// allow reports whether ip may issue another request.
func (l *limiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	c, ok := l.clients[ip]
	if !ok {
		if len(l.clients) >= maxTrackedIPs {
			l.evictClients(now)
		}
		c = &client{lim: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.lim.AllowN(now, 1)
}

// evictClients drops clients whose bucket is full again, which a new limiter
// would reproduce. If none are, the least recently seen client is dropped.
func (l *limiter) evictClients(now time.Time) {
	var oldest string
	for ip, c := range l.clients {
		if c.lim.TokensAt(now) >= float64(l.burst) {
			delete(l.clients, ip)
			continue
		}
		if oldest == "" || c.lastSeen.Before(l.clients[oldest].lastSeen) {
			oldest = ip
		}
	}
	if len(l.clients) >= maxTrackedIPs {
		delete(l.clients, oldest)
	}
}

// blocked returns the remaining block time for client, or zero.
func (l *limiter) blocked(client string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.failures[client]
	if !ok || f.blockedUntil.IsZero() {
		return 0
	}
	if left := f.blockedUntil.Sub(l.now()); left > 0 {
		return left
	}
	delete(l.failures, client)
	return 0
}

func (l *limiter) fail(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	f, ok := l.failures[client]
	if !ok {
		if len(l.failures) >= maxTrackedIPs {
			l.evictFailures(now)
		}
		f = &authFailures{windowStart: now}
		l.failures[client] = f
	}
	if now.Sub(f.windowStart) > authWindow {
		f.count, f.windowStart = 0, now
	}
	f.count++
	if f.count >= authMaxFailures {
		f.blockedUntil = now.Add(authBlock)
	}
}

func (l *limiter) succeed(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, client)
}

func (l *limiter) evictFailures(now time.Time) {
	for ip, f := range l.failures {
		if now.After(f.blockedUntil) && now.Sub(f.windowStart) > authWindow {
			delete(l.failures, ip)
		}
	}
}

func (s *Server) rateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && r.URL.Path != "/healthz" && !s.limiter.allow(s.clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded. Try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		ip := s.clientIP(r)
		if s.limiter != nil {
			if left := s.limiter.blocked(ip); left > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(left.Seconds())+1))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many failed authentication attempts. Try again later.")
				return
			}
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			key, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if !validKey(key, s.apiKey) {
			if s.limiter != nil {
				s.limiter.fail(ip)
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
			return
		}
		if s.limiter != nil {
			s.limiter.succeed(ip)
		}
		next.ServeHTTP(w, r)
	})
}

// validKey compares in constant time.
func validKey(provided, expected string) bool {
	return expected != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// clientIP identifies the caller by its socket address. X-Forwarded-For is
// honoured only when the server sits behind a trusted proxy, since clients
// can set it freely.
func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
