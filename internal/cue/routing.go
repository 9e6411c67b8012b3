package cue

import (
	"strings"

	"alnorchestrator/internal/models"
)

// resolveRouting returns the dispatch target by precedence (payload is not
// modified): command-level target
// > cue-level routing[streamType] > global default (empty string, left
// for the composition root's executor to interpret), where streamType is
// the action's prefix before ':' (spec.md §4.9 "Timeline entry dispatch
// and routing").
func (e *Engine) resolveRouting(action string, payload map[string]any, def models.CueDefinition) string {
	if payload != nil {
		if t, ok := payload["target"]; ok {
			if s, ok := t.(string); ok && s != "" {
				return s
			}
		}
	}

	streamType := action
	if i := strings.IndexByte(action, ':'); i >= 0 {
		streamType = action[:i]
	}
	if def.Routing != nil {
		if target, ok := def.Routing[streamType]; ok {
			return target
		}
	}
	return ""
}
