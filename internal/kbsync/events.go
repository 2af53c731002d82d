package kbsync

import (
	"encoding/json"
	"fmt"
)

type PropertyDelta struct {
	PropertyName string
	PropertyID   string
	Before       any
	After        any
}

type InboundEvent struct {
	ObjectKind        string
	EventKind         string
	EntityID          string
	ChangedProperties []PropertyDelta
}

// NormalizeEnvelope accepts the three envelope shapes the source store has
// historically delivered: {"events":[...]}, a bare array, or a single bare
// event object. Non-page events and events outside the allow-list are dropped.
// An empty allow-list admits every event kind.
func NormalizeEnvelope(payload []byte, allow map[string]bool) ([]InboundEvent, error) {
	var root any
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("%w: envelope is not valid json", ErrInvalidInput)
	}

	var rawEvents []any
	switch typed := root.(type) {
	case []any:
		rawEvents = typed
	case map[string]any:
		if events, ok := typed["events"].([]any); ok {
			rawEvents = events
		} else {
			rawEvents = []any{typed}
		}
	default:
		return nil, fmt.Errorf("%w: envelope must be a json object or array", ErrInvalidInput)
	}

	out := make([]InboundEvent, 0, len(rawEvents))
	for _, raw := range rawEvents {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		ev := parseEvent(obj)
		if ev.ObjectKind != "page" {
			continue
		}
		if len(allow) > 0 && !allow[ev.EventKind] {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseEvent(obj map[string]any) InboundEvent {
	ev := InboundEvent{
		ObjectKind: toString(obj["object"]),
		EventKind:  toString(obj["type"]),
		EntityID:   entityID(obj),
	}
	changed, ok := obj["changed_properties"].([]any)
	if !ok {
		return ev
	}
	for _, item := range changed {
		delta, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ev.ChangedProperties = append(ev.ChangedProperties, PropertyDelta{
			PropertyName: toString(delta["property_name"]),
			PropertyID:   toString(delta["property_id"]),
			Before:       delta["before"],
			After:        delta["after"],
		})
	}
	return ev
}

// Historical payloads carried the page id under several names. First match
// wins: id, page_id, entity.id, entity_id.
func entityID(obj map[string]any) string {
	if id := toString(obj["id"]); id != "" {
		return id
	}
	if id := toString(obj["page_id"]); id != "" {
		return id
	}
	if entity, ok := obj["entity"].(map[string]any); ok {
		if id := toString(entity["id"]); id != "" {
			return id
		}
	}
	return toString(obj["entity_id"])
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
