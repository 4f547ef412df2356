package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pencilparty/pencilparty/internal/api"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter allows each client IP max requests per window as a token bucket: the bucket
// holds max tokens and refills evenly across the window. Visitors idle for a full window
// are forgotten.
//
// The client IP is the TCP peer. X-Forwarded-For and X-Real-IP are read only when the peer
// is one of the proxies given to TrustProxies.
type RateLimiter struct {
	max     int
	window  time.Duration
	every   rate.Limit
	now     func() time.Time
	trusted []netip.Prefix

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:      max,
		window:   window,
		every:    rate.Every(window / time.Duration(max)),
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// TrustProxies accepts CIDRs or bare addresses of reverse proxies allowed to report the
// client address in forwarding headers. Call it before serving requests.
func (rl *RateLimiter) TrustProxies(proxies ...string) error {
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(p)
		if err != nil {
			addr, aerr := netip.ParseAddr(p)
			if aerr != nil {
				return fmt.Errorf("trusted proxy %q: %w", p, err)
			}
			prefix = netip.PrefixFrom(addr, addr.BitLen())
		}
		rl.trusted = append(rl.trusted, prefix.Masked())
	}
	return nil
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.window {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > rl.window {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.every, rl.max)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Handler answers 429 RATE_LIMIT_EXCEEDED once a client's bucket is empty.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(rl.clientIP(r)) {
			retry := time.Duration(float64(time.Second) / float64(rl.every))
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			api.WriteError(w, api.NewError(http.StatusTooManyRequests, api.CodeRateLimit, "too many requests, please try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (rl *RateLimiter) clientIP(r *http.Request) string {
	peer := peerIP(r)
	if !rl.isTrusted(peer) {
		return peer
	}

	// rightmost hop not added by one of our proxies
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if rl.isTrusted(hop) {
				continue
			}
			if addr, err := netip.ParseAddr(hop); err == nil {
				return addr.Unmap().String()
			}
			return peer
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		if addr, err := netip.ParseAddr(xr); err == nil {
			return addr.Unmap().String()
		}
	}
	return peer
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
