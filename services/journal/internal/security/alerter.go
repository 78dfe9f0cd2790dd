// Package security counts failed authentication events per client and
// flags bursts that cross a threshold.
package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

const defaultPrefix = "journal:alerts"

// Alert is the outcome of observing one security event.
type Alert struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// Alerter aggregates security events in Redis counters keyed by event,
// outcome, client and window slot. A nil *Alerter observes nothing.
type Alerter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewAlerter returns nil when addr is empty.
func NewAlerter(addr, password, prefix string) *Alerter {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Alerter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
		now:    time.Now,
	}
}

// Observe records the event and reports whether its rule fired.
func (a *Alerter) Observe(ctx context.Context, event, outcome, ip string) (Alert, error) {
	var res Alert
	if a == nil || a.client == nil {
		return res, nil
	}
	threshold, window, ok := rule(event, outcome)
	if !ok {
		return res, nil
	}
	windowMs := window.Milliseconds()
	slot := a.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, segment(event), segment(outcome), segment(ip), slot)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return res, err
	}
	res.Count = count
	res.Threshold = threshold
	res.Window = window
	// Fire once per window, on the crossing.
	res.Triggered = count == threshold
	return res, nil
}

// Close releases the Redis connection.
func (a *Alerter) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}

func rule(event, outcome string) (int64, time.Duration, bool) {
	switch outcome {
	case "rate_limited":
		return 20, time.Minute, true
	case "fail":
	default:
		return 0, 0, false
	}
	switch event {
	case "journal.login", "journal.signup", "journal.password.reset":
		return 10, 5 * time.Minute, true
	case "journal.token.verify", "journal.identity.resolve", "journal.external.link":
		return 25, 5 * time.Minute, true
	default:
		return 0, 0, false
	}
}

func segment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.NewReplacer(":", "_", "|", "_", " ", "_").Replace(in)
}
