// Package mapper implements the cloud mapper skeleton (spec §4.I): bridge
// rule rendering, a pluggable converter actor interface, and an operation
// bridge that turns cloud-originated requests into local workflow
// commands. Translation to a specific cloud's wire format is out of the
// core's scope; this package only renders rules and drives the bridge.
package mapper

import (
	"fmt"
	"strings"

	"github.com/thin-edge/tedge-core/internal/config"
)

// Connection carries the TLS/auth context a rendered rule may reference via
// ${connection.*}.
type Connection struct {
	Values map[string]string
}

// RenderedRule is a BridgeRule with every placeholder resolved.
type RenderedRule struct {
	Direction   string
	LocalTopic  string
	RemoteTopic string
	QoS         byte
}

// Expander resolves ${config.*}, ${mapper.*}, ${item} and ${connection.*}
// placeholders in a bridge rule against the global config, the mapper's
// own settings, a loop variable, and the connection context.
type Expander struct {
	Global     map[string]string
	MapperVars map[string]string
	Connection Connection
}

// NewExpander builds an Expander from a MapperConfig and the resolved
// global settings map it is layered on top of.
func NewExpander(global map[string]string, mapperCfg config.MapperConfig, conn Connection) *Expander {
	return &Expander{Global: global, MapperVars: mapperCfg.Settings, Connection: conn}
}

// Render expands every rule in rules, substituting item for ${item} in each.
func (e *Expander) Render(rules []config.BridgeRule, item string) []RenderedRule {
	out := make([]RenderedRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, RenderedRule{
			Direction:   r.Direction,
			LocalTopic:  e.expand(r.LocalTopic, item),
			RemoteTopic: e.expand(r.RemoteTopic, item),
			QoS:         r.QoS,
		})
	}
	return out
}

func (e *Expander) expand(s, item string) string {
	s = strings.ReplaceAll(s, "${item}", item)
	s = e.expandPrefixed(s, "${config.", e.Global)
	s = e.expandPrefixed(s, "${mapper.", e.MapperVars)
	s = e.expandPrefixed(s, "${connection.", e.Connection.Values)
	return s
}

func (e *Expander) expandPrefixed(s, prefix string, vars map[string]string) string {
	for {
		start := strings.Index(s, prefix)
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			return s
		}
		key := s[start+len(prefix) : start+end]
		val := vars[key]
		s = s[:start] + val + s[start+end+1:]
	}
}

// ValidateRule reports whether a rule's direction is one the skeleton
// understands.
func ValidateRule(r config.BridgeRule) error {
	switch r.Direction {
	case "local_to_remote", "remote_to_local":
		return nil
	default:
		return fmt.Errorf("mapper: unknown bridge rule direction %q", r.Direction)
	}
}
