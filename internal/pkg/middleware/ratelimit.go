package middleware

import (
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/finresearch/research-assistant/internal/pkg/errors"
)

// staleAfter is how long an idle client bucket is kept.
const staleAfter = 5 * time.Minute

// RouteLimit is the allowance for one route.
type RouteLimit struct {
	// PerMinute is the sustained request rate. Zero disables limiting.
	PerMinute int
	// Burst is the bucket size. Zero means PerMinute.
	Burst int
}

// RouteRateLimiter keeps a token bucket per (route, client IP). Over-limit
// requests are rejected immediately, never queued.
type RouteRateLimiter struct {
	mu       sync.Mutex
	routes   map[string]RouteLimit
	clients  map[string]*rate.Limiter
	lastSeen map[string]time.Time
	trusted  []netip.Prefix
	now      func() time.Time
	onReject func(route string)
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRouteRateLimiter creates a limiter for the given path patterns. Paths
// not listed are not limited. Stale buckets are swept every cleanup interval.
func NewRouteRateLimiter(routes map[string]RouteLimit, cleanup time.Duration) *RouteRateLimiter {
	rl := &RouteRateLimiter{
		routes:   routes,
		clients:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if cleanup > 0 {
		go rl.cleanupLoop(cleanup)
	}
	return rl
}

// OnReject registers a callback for rejected requests, from HTTP or from
// direct Allow calls.
func (rl *RouteRateLimiter) OnReject(fn func(route string)) {
	rl.mu.Lock()
	rl.onReject = fn
	rl.mu.Unlock()
}

// TrustProxies sets the peers whose forwarding headers name the client.
// Requests from any other peer are keyed by their own address.
func (rl *RouteRateLimiter) TrustProxies(prefixes []netip.Prefix) {
	rl.mu.Lock()
	rl.trusted = prefixes
	rl.mu.Unlock()
}

// Stop ends the cleanup goroutine.
func (rl *RouteRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RouteRateLimiter) getLimiter(route, clientIP string, limit RouteLimit) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := route + "|" + clientIP
	rl.lastSeen[key] = rl.now()

	limiter, exists := rl.clients[key]
	if !exists {
		burst := limit.Burst
		if burst <= 0 {
			burst = limit.PerMinute
		}
		limiter = rate.NewLimiter(rate.Limit(float64(limit.PerMinute)/60), burst)
		rl.clients[key] = limiter
	}

	return limiter
}

func (rl *RouteRateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RouteRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-staleAfter)
	for key, lastSeen := range rl.lastSeen {
		if lastSeen.Before(threshold) {
			delete(rl.clients, key)
			delete(rl.lastSeen, key)
		}
	}
}

// Allow takes a token for the client on route. When denied it returns how
// long until a token is available.
func (rl *RouteRateLimiter) Allow(route, clientIP string) (bool, time.Duration) {
	limit, ok := rl.routes[route]
	if !ok || limit.PerMinute <= 0 {
		return true, 0
	}

	limiter := rl.getLimiter(route, clientIP, limit)
	now := rl.now()
	res := limiter.ReserveN(now, 1)
	if !res.OK() {
		rl.rejected(route)
		return false, time.Minute
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		rl.rejected(route)
		return false, delay
	}
	return true, 0
}

func (rl *RouteRateLimiter) rejected(route string) {
	rl.mu.Lock()
	onReject := rl.onReject
	rl.mu.Unlock()
	if onReject != nil {
		onReject(route)
	}
}

// RetryAfterSeconds rounds a retry delay up to whole seconds, at least one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Middleware applies the limits keyed by the request path.
func (rl *RouteRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := rl.Allow(r.URL.Path, rl.clientIP(r))
		if !allowed {
			secs := RetryAfterSeconds(retryAfter)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			apperrors.WriteError(w, apperrors.RateLimitedError(secs))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP keys the request. Forwarding headers count only when the direct
// peer is a trusted proxy; X-Forwarded-For is then walked right to left and
// the first hop that is not itself a trusted proxy is the client.
func (rl *RouteRateLimiter) clientIP(r *http.Request) string {
	rl.mu.Lock()
	trusted := rl.trusted
	rl.mu.Unlock()

	peer := remoteHost(r.RemoteAddr)
	if !isTrusted(trusted, peer) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !isTrusted(trusted, hop) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func isTrusted(trusted []netip.Prefix, ip string) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.WithZone("").Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
