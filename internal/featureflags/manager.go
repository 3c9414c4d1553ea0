// Package featureflags evaluates runtime switches configured through
// FEATURE_FLAGS, e.g. "restaurant_reviews=off,reminder_push=25%".
package featureflags

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
)

// Flag names a switch the application consults.
type Flag string

const (
	// RestaurantReviews includes provider reviews in restaurant details.
	RestaurantReviews Flag = "restaurant_reviews"
	// ReminderPush forwards fired reminders to the push gateway exchange.
	ReminderPush Flag = "reminder_push"
)

// defaults apply to known flags missing from configuration.
var defaults = map[Flag]string{
	RestaurantReviews: "on",
	ReminderPush:      "on",
}

// Manager holds the configured flag values.
type Manager struct {
	flags map[Flag]string
}

// NewManager parses a comma-separated key=value list. Malformed entries are
// logged and skipped.
func NewManager(raw string) *Manager {
	out := make(map[Flag]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}

	for _, pair := range strings.Split(raw, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		key, value = normalize(key), normalize(value)
		if !ok || key == "" || !validValue(value) {
			slog.Warn("ignoring malformed feature flag", slog.String("entry", strings.TrimSpace(pair)))
			continue
		}
		out[Flag(key)] = value
	}

	return &Manager{flags: out}
}

func validValue(v string) bool {
	switch v {
	case "on", "true", "1", "off", "false", "0":
		return true
	}
	pct, ok := strings.CutSuffix(v, "%")
	if !ok {
		return false
	}
	n, err := strconv.Atoi(pct)
	return err == nil && n >= 0 && n <= 100
}

// Enabled reports whether flag is on for userID. Percentage values roll out
// deterministically by user; anonymous callers only see fully enabled flags.
func (m *Manager) Enabled(flag Flag, userID uint) bool {
	if m == nil {
		return defaults[flag] == "on"
	}

	value, ok := m.flags[Flag(normalize(string(flag)))]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pct, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
	switch {
	case err != nil || pct <= 0:
		return false
	case pct >= 100:
		return true
	case userID == 0:
		return false
	}
	return rolloutBucket(flag, userID) < pct
}

// Gate binds flag so callers can check users without knowing the manager.
func (m *Manager) Gate(flag Flag) func(userID uint) bool {
	return func(userID uint) bool { return m.Enabled(flag, userID) }
}

// Raw returns a copy of the configured values, defaults included.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[string(k)] = v
	}
	return out
}

// Snapshot returns evaluated flag status for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[string(name)] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(flag Flag, userID uint) int {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s:%d", normalize(string(flag)), userID)
	return int(h.Sum32() % 100)
}
