// Package pathconfig resolves a location to the presentation properties the
// host attaches to it. Rules are ordered; every rule with a pattern matching
// the location's path contributes its properties, later rules overriding
// earlier ones.
package pathconfig

import (
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"sync/atomic"
)

// Properties are the resolved attributes for a location.
type Properties map[string]any

// String returns the property as a string, or "" when absent or not a string.
func (p Properties) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Rule applies Properties to every location whose path matches one of
// Patterns.
type Rule struct {
	Patterns   []string   `yaml:"patterns" json:"patterns"`
	Properties Properties `yaml:"properties" json:"properties"`

	compiled []*regexp.Regexp
}

func (r *Rule) compile() error {
	r.compiled = r.compiled[:0]
	for _, p := range r.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("pathconfig: pattern %q: %w", p, err)
		}
		r.compiled = append(r.compiled, re)
	}
	return nil
}

func (r *Rule) matches(path string) bool {
	for _, re := range r.compiled {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// Config is an immutable, compiled rule set.
type Config struct {
	rules []Rule
}

// New compiles rules into a Config.
func New(rules []Rule) (*Config, error) {
	c := &Config{rules: make([]Rule, len(rules))}
	for i, r := range rules {
		r.Patterns = append([]string(nil), r.Patterns...)
		if err := r.compile(); err != nil {
			return nil, err
		}
		c.rules[i] = r
	}
	return c, nil
}

// Rules returns the number of rules.
func (c *Config) Rules() int { return len(c.rules) }

// Properties merges the properties of every rule matching location. It never
// returns nil.
func (c *Config) Properties(location string) Properties {
	out := Properties{}
	if c == nil {
		return out
	}
	path := location
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		path = u.Path
	}
	for i := range c.rules {
		if c.rules[i].matches(path) {
			maps.Copy(out, c.rules[i].Properties)
		}
	}
	return out
}

// Live holds the current Config and can be swapped while readers resolve
// locations concurrently.
type Live struct {
	cur atomic.Pointer[Config]
}

// NewLive returns a Live serving c.
func NewLive(c *Config) *Live {
	l := &Live{}
	l.Store(c)
	return l
}

// Store replaces the served Config.
func (l *Live) Store(c *Config) { l.cur.Store(c) }

// Load returns the served Config.
func (l *Live) Load() *Config { return l.cur.Load() }

// Properties resolves location against the current Config.
func (l *Live) Properties(location string) Properties {
	return l.cur.Load().Properties(location)
}
