package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitResult is the outcome of consuming one request slot.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter int // seconds until the window resets; set when Allowed is false
}

type rateEntry struct {
	Count   int   `json:"count"`
	ResetAt int64 `json:"resetAt"` // unix seconds
}

// RateLimiter enforces a fixed request window per client key. Entries live in
// Redis when a client is configured so multiple instances share one budget;
// any Redis failure falls back to the in-memory map for that call, so a store
// outage never rejects traffic.
//
// The Redis read-then-write is not atomic: concurrent requests on the same
// key can each pass the check. The window algorithm tolerates the extra
// allowed request; this is abuse mitigation, not a hard cap.
type RateLimiter struct {
	limit  int
	window time.Duration
	rdb    *redis.Client // may be nil

	mu      sync.Mutex
	entries map[string]*rateEntry
}

func NewRateLimiter(limit int, window time.Duration, rdb *redis.Client) *RateLimiter {
	rl := &RateLimiter{
		limit:   limit,
		window:  window,
		rdb:     rdb,
		entries: make(map[string]*rateEntry),
	}

	// Sweep expired in-memory entries
	go func() {
		for {
			time.Sleep(window)
			now := time.Now().Unix()
			rl.mu.Lock()
			for key, e := range rl.entries {
				if now > e.ResetAt {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		}
	}()

	return rl
}

// Check consumes one slot for key. On the first request of a window the
// counter restarts at 1; a denied call does not increment further.
func (rl *RateLimiter) Check(ctx context.Context, key string) RateLimitResult {
	if rl.rdb != nil {
		res, err := rl.checkRedis(ctx, key)
		if err == nil {
			return res
		}
		log.Printf("Rate limit store error for %s, falling back to memory: %v", key, err)
	}
	return rl.checkMemory(key)
}

func (rl *RateLimiter) checkRedis(ctx context.Context, key string) (RateLimitResult, error) {
	redisKey := "rl:" + key
	now := time.Now().Unix()

	var entry rateEntry
	data, err := rl.rdb.Get(ctx, redisKey).Bytes()
	switch {
	case err == redis.Nil:
		// no entry yet
	case err != nil:
		return RateLimitResult{}, err
	default:
		if jsonErr := json.Unmarshal(data, &entry); jsonErr != nil {
			entry = rateEntry{}
		}
	}

	if entry.ResetAt == 0 || now > entry.ResetAt {
		entry = rateEntry{Count: 1, ResetAt: now + int64(rl.window.Seconds())}
		if err := rl.putRedis(ctx, redisKey, entry, now); err != nil {
			return RateLimitResult{}, err
		}
		return RateLimitResult{Allowed: true, Remaining: rl.limit - 1}, nil
	}

	if entry.Count >= rl.limit {
		return RateLimitResult{Allowed: false, RetryAfter: int(entry.ResetAt - now)}, nil
	}

	entry.Count++
	if err := rl.putRedis(ctx, redisKey, entry, now); err != nil {
		return RateLimitResult{}, err
	}
	return RateLimitResult{Allowed: true, Remaining: rl.limit - entry.Count}, nil
}

func (rl *RateLimiter) putRedis(ctx context.Context, redisKey string, entry rateEntry, now int64) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	// Expiry outlives the window slightly so readers never see a live window
	// whose entry has expired.
	ttl := time.Duration(entry.ResetAt-now+10) * time.Second
	return rl.rdb.Set(ctx, redisKey, data, ttl).Err()
}

func (rl *RateLimiter) checkMemory(key string) RateLimitResult {
	now := time.Now().Unix()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[key]
	if !ok || now > e.ResetAt {
		rl.entries[key] = &rateEntry{Count: 1, ResetAt: now + int64(rl.window.Seconds())}
		return RateLimitResult{Allowed: true, Remaining: rl.limit - 1}
	}

	if e.Count >= rl.limit {
		return RateLimitResult{Allowed: false, RetryAfter: int(e.ResetAt - now)}
	}

	e.Count++
	return RateLimitResult{Allowed: true, Remaining: rl.limit - e.Count}
}

// Middleware applies the limiter keyed by client IP. Rejections get a 429
// with a Retry-After hint; allowed requests carry X-RateLimit-Remaining.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := rl.Check(r.Context(), clientIP(r))
		if !res.Allowed {
			retryAfter := res.RetryAfter
			if retryAfter <= 0 {
				retryAfter = int(rl.window.Seconds())
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"code":       "RATE_LIMITED",
					"message":    "Rate limit exceeded. Please wait before sending more requests.",
					"request_id": r.Header.Get("X-Request-ID"),
				},
				"retryAfter": retryAfter,
			})
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		next.ServeHTTP(w, r)
	})
}

// clientIP trusts RemoteAddr; chi's RealIP middleware has already folded
// X-Forwarded-For / X-Real-IP into it.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
