// Package proxy provides egress proxy entries and their rotation policies.
package proxy

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Entry is a single egress proxy.
type Entry struct {
	Address string `yaml:"address" json:"address"`
	Port    int    `yaml:"port" json:"port"`
}

// String returns the entry in host:port form, as passed to --proxy-server.
func (e Entry) String() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// Validate checks that the entry can be used as a proxy address.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.Address) == "" {
		return fmt.Errorf("proxy address can't be empty")
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("proxy %q: port %d out of range 1-65535", e.Address, e.Port)
	}
	return nil
}

// ParseEntry parses "host:port".
func ParseEntry(s string) (Entry, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Entry{}, fmt.Errorf("invalid proxy %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid proxy port in %q: %w", s, err)
	}
	e := Entry{Address: host, Port: port}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Policy controls what happens when the entries run out.
type Policy string

const (
	// PolicyCycle loops over the entries forever.
	PolicyCycle Policy = "cycle"
	// PolicyOneShot hands out every entry once, then reports exhaustion.
	PolicyOneShot Policy = "one_shot"
)

// ParsePolicy converts a configuration value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyCycle:
		return PolicyCycle, nil
	case PolicyOneShot, "oneshot", "one-shot":
		return PolicyOneShot, nil
	default:
		return "", fmt.Errorf("unknown proxy policy %q (want %q or %q)", s, PolicyCycle, PolicyOneShot)
	}
}

// Rotator hands out proxy entries in configured order.
// It is not safe for concurrent use; the control loop owns it.
type Rotator struct {
	entries []Entry
	policy  Policy
	cursor  int
}

// NewRotator returns a rotator over entries, or nil when entries is empty.
// A nil *Rotator means rotation is disabled and sessions run without a proxy.
func NewRotator(entries []Entry, policy Policy) *Rotator {
	if len(entries) == 0 {
		return nil
	}
	if policy == "" {
		policy = PolicyCycle
	}
	return &Rotator{
		entries: append([]Entry(nil), entries...),
		policy:  policy,
	}
}

// Active reports whether rotation is configured. Safe on a nil receiver.
func (r *Rotator) Active() bool {
	return r != nil && len(r.entries) > 0
}

// Policy returns the exhaustion policy.
func (r *Rotator) Policy() Policy {
	return r.policy
}

// Len returns the number of configured entries. Safe on a nil receiver.
func (r *Rotator) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Next returns the next entry. ok is false once a one_shot rotator has
// handed out every entry, and stays false on every later call.
func (r *Rotator) Next() (entry Entry, ok bool) {
	if !r.Active() {
		return Entry{}, false
	}

	switch r.policy {
	case PolicyOneShot:
		if r.cursor >= len(r.entries) {
			return Entry{}, false
		}
		entry = r.entries[r.cursor]
		r.cursor++
		return entry, true
	default:
		entry = r.entries[r.cursor%len(r.entries)]
		r.cursor = (r.cursor + 1) % len(r.entries)
		return entry, true
	}
}

// Remaining returns how many entries a one_shot rotator can still hand out,
// or -1 for cycle.
func (r *Rotator) Remaining() int {
	if !r.Active() {
		return 0
	}
	if r.policy != PolicyOneShot {
		return -1
	}
	return len(r.entries) - r.cursor
}
