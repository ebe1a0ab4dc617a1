package planner

import (
	"fmt"
	"strings"

	"notification-orchestrator/internal/domain"
)

// evalCondition evaluates a flat predicate expression against the event.
// Supported form: clauses joined with "&&", each "path == value" or
// "path != value". Paths are "entity_type", "entity_id", or "data.<key>".
// An empty expression always matches.
func evalCondition(expr string, ev domain.DomainEvent) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}

	for _, clause := range strings.Split(expr, "&&") {
		ok, err := evalClause(strings.TrimSpace(clause), ev)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalClause(clause string, ev domain.DomainEvent) (bool, error) {
	var path, value string
	var negate bool

	switch {
	case strings.Contains(clause, "!="):
		parts := strings.SplitN(clause, "!=", 2)
		path, value, negate = parts[0], parts[1], true
	case strings.Contains(clause, "=="):
		parts := strings.SplitN(clause, "==", 2)
		path, value = parts[0], parts[1]
	default:
		return false, fmt.Errorf("unsupported condition clause %q", clause)
	}

	path = strings.TrimSpace(path)
	value = strings.Trim(strings.TrimSpace(value), `"'`)

	actual, err := lookupPath(path, ev)
	if err != nil {
		return false, err
	}

	equal := actual == value
	if negate {
		return !equal, nil
	}
	return equal, nil
}

func lookupPath(path string, ev domain.DomainEvent) (string, error) {
	switch {
	case path == "entity_type":
		return ev.EntityType, nil
	case path == "entity_id":
		return ev.EntityID, nil
	case path == "event_type":
		return ev.EventType, nil
	case strings.HasPrefix(path, "data."):
		key := strings.TrimPrefix(path, "data.")
		v, ok := ev.Data[key]
		if !ok {
			return "", nil
		}
		return fmt.Sprint(v), nil
	default:
		return "", fmt.Errorf("unknown condition path %q", path)
	}
}
