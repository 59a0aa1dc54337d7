package pipeline

import (
	"path"
	"strings"
)

const (
	branchRefPrefix = "refs/heads/"
	tagRefPrefix    = "refs/tags/"
)

// Matches reports whether a webhook event for ref should start a run. Empty
// filters accept everything; branch and tag patterns use path.Match globs.
func (t Triggers) Matches(event, ref string) bool {
	if len(t.Events) > 0 && !contains(t.Events, event) {
		return false
	}
	if len(t.Branches) == 0 && len(t.Tags) == 0 {
		return true
	}

	switch {
	case strings.HasPrefix(ref, tagRefPrefix):
		return matchAny(t.Tags, strings.TrimPrefix(ref, tagRefPrefix))
	case strings.HasPrefix(ref, branchRefPrefix):
		return matchAny(t.Branches, strings.TrimPrefix(ref, branchRefPrefix))
	default:
		// Bare names are treated as branches.
		return ref != "" && matchAny(t.Branches, ref)
	}
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
