package ingress

import "strings"

// matchTopic implements spec.md §4.7's matching rule: exact match, or
// glob with `*` matching exactly one dot-delimited segment (e.g.
// "alerts.*" matches "alerts.cpu" but not "alerts.cpu.high").
func matchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i, p := range pSegs {
		if p == "*" {
			continue
		}
		if p != tSegs[i] {
			return false
		}
	}
	return true
}
