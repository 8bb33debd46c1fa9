// Package policy decides which host events are eligible for forwarding.
package policy

import (
	"strings"

	"github.com/leshachaplin/feedbackhook/internal/domain"
)

// AllowList is the parsed set of event names eligible for forwarding.
// Names are matched verbatim: no trimming and no case folding.
type AllowList map[string]struct{}

func ParseAllowList(raw string) AllowList {
	names := strings.Split(raw, ",")
	list := make(AllowList, len(names))
	for _, name := range names {
		list[name] = struct{}{}
	}
	return list
}

func (a AllowList) Contains(name string) bool {
	_, ok := a[name]
	return ok
}

// ShouldForward reports whether the event is named in the allow list and carries properties.
func (a AllowList) ShouldForward(event *domain.Event) bool {
	if event == nil {
		return false
	}
	return a.Contains(event.Name) && event.HasProperties()
}

// ShouldForward parses allowList and applies it to a single event.
func ShouldForward(event *domain.Event, allowList string) bool {
	return ParseAllowList(allowList).ShouldForward(event)
}
