package mqtt

import "strings"

// DefaultTopicPrefix is used when a Topics value has no prefix.
const DefaultTopicPrefix = "freyja"

// Topics builds Freyja MQTT topics under a prefix.
//
//	topics := mqtt.Topics{Prefix: "vehicle"}
//	topics.ProviderState("cabin-temp") // "vehicle/state/cabin-temp"
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	prefix := strings.Trim(t.Prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// SystemStatus is the retained online/offline status topic.
func (t Topics) SystemStatus() string {
	return t.join("system", "status")
}

// ProviderState is where a provider publishes values for an entity.
func (t Topics) ProviderState(entityID string) string {
	return t.join("state", entityID)
}

// AllProviderStates matches every ProviderState topic.
func (t Topics) AllProviderStates() string {
	return t.join("state", "+")
}

// ProviderRequest is where Freyja asks a provider for a fresh value.
func (t Topics) ProviderRequest(entityID string) string {
	return t.join("request", entityID)
}

// TwinValue is where the emitter publishes values for a digital twin target.
func (t Topics) TwinValue(target string) string {
	return t.join("twin", target)
}

// EntityFromStateTopic extracts the entity id from a ProviderState topic.
func (t Topics) EntityFromStateTopic(topic string) (string, bool) {
	prefix := t.join("state", "")
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
