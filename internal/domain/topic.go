// Package domain holds the types and sentinel errors shared across every
// actor in the core: the entity topic grammar, entity/twin records, command
// records and the workflow definition shape. Infrastructure packages depend
// on domain; domain depends on nothing in this module.
package domain

import (
	"fmt"
	"strings"
)

// TopicID is the 4-segment entity identifier that follows the configured
// root prefix: <type_ns>/<device_id>/<service_ns>/<service_id>.
// Empty segments are preserved as empty strings so the slash-count survives
// round-tripping through an MQTT topic or a REST path.
type TopicID struct {
	TypeNS    string
	DeviceID  string
	ServiceNS string
	ServiceID string
}

// MainDevice is the reserved identifier for the local device itself.
var MainDevice = TopicID{TypeNS: "device", DeviceID: "main"}

// String renders the topic id as it appears after the root prefix, e.g.
// "device/main//" or "device/child0/service/collectd".
func (t TopicID) String() string {
	return strings.Join([]string{t.TypeNS, t.DeviceID, t.ServiceNS, t.ServiceID}, "/")
}

// IsZero reports whether t is the zero value (no topic id set).
func (t TopicID) IsZero() bool {
	return t == TopicID{}
}

// ParseTopicID parses a 4-segment slash-separated identifier. Trailing empty
// segments may be omitted (spec §4.E: "trailing empty segments ... are
// optional on the URL path").
func ParseTopicID(s string) (TopicID, error) {
	s = strings.Trim(s, "/")
	parts := strings.Split(s, "/")
	if len(parts) == 0 || len(parts) > 4 {
		return TopicID{}, fmt.Errorf("%w: %q", ErrBadQuery, s)
	}
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return TopicID{
		TypeNS:    parts[0],
		DeviceID:  parts[1],
		ServiceNS: parts[2],
		ServiceID: parts[3],
	}, nil
}

// TopicUnder joins the root prefix and the topic id's segments with the
// given trailing channel, e.g. TopicUnder("te", id, "cmd/restart/1234").
func TopicUnder(root string, id TopicID, channel string) string {
	base := strings.TrimSuffix(root, "/") + "/" + id.String()
	if channel == "" {
		return base
	}
	return base + "/" + channel
}

// EntityType classifies an entity record.
type EntityType string

const (
	EntityTypeDevice      EntityType = "device"
	EntityTypeChildDevice EntityType = "child-device"
	EntityTypeService     EntityType = "service"
)

// Entity is the canonical record for one device, child-device or service.
type Entity struct {
	TopicID                TopicID
	EntityType             EntityType
	ParentTopicID          *TopicID
	HealthEndpointTopicID  *TopicID
	ExternalID             string
	Twin                   map[string]any
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// store's lock (the twin map and pointer fields are copied).
func (e Entity) Clone() Entity {
	out := e
	if e.ParentTopicID != nil {
		p := *e.ParentTopicID
		out.ParentTopicID = &p
	}
	if e.HealthEndpointTopicID != nil {
		h := *e.HealthEndpointTopicID
		out.HealthEndpointTopicID = &h
	}
	if e.Twin != nil {
		out.Twin = make(map[string]any, len(e.Twin))
		for k, v := range e.Twin {
			out.Twin[k] = v
		}
	}
	return out
}

// RegistrationPayload renders the JSON fields of the retained registration
// message for this entity (spec §3: "@"-prefixed registration metadata plus
// whatever twin fragments are meant to travel with it).
func (e Entity) RegistrationPayload() map[string]any {
	m := map[string]any{
		"@topic-id": e.TopicID.String(),
		"@type":     string(e.EntityType),
	}
	if e.ParentTopicID != nil {
		m["@parent"] = e.ParentTopicID.String()
	}
	if e.HealthEndpointTopicID != nil {
		m["@health"] = e.HealthEndpointTopicID.String()
	}
	if e.ExternalID != "" {
		m["@id"] = e.ExternalID
	}
	for k, v := range e.Twin {
		if strings.HasPrefix(k, "@") {
			continue
		}
		m[k] = v
	}
	return m
}

// IsReservedKey reports whether a twin fragment key is reserved for
// registration metadata (spec §3 invariant 4).
func IsReservedKey(key string) bool {
	return strings.HasPrefix(key, "@")
}
