package booking

import (
	"sort"
	"strings"
)

// Technology identifies a communication technology offered by a device.
type Technology string

const (
	TechnologyH323         Technology = "H323"
	TechnologySIP          Technology = "SIP"
	TechnologyAdobeConnect Technology = "ADOBE_CONNECT"
	TechnologyWebRTC       Technology = "WEBRTC"
	TechnologyFreePBX      Technology = "FREEPBX"
)

// CompatibleWith reports whether t can be used in a room supporting set.
func (t Technology) CompatibleWith(set TechnologySet) bool {
	return set.Contains(t)
}

// TechnologySet is an ordered set of technologies. The zero value is empty.
// Methods never modify the receiver.
type TechnologySet struct {
	items []Technology
}

// NewTechnologySet returns a sorted, de-duplicated set.
func NewTechnologySet(technologies ...Technology) TechnologySet {
	if len(technologies) == 0 {
		return TechnologySet{}
	}
	items := make([]Technology, 0, len(technologies))
	seen := make(map[Technology]struct{}, len(technologies))
	for _, technology := range technologies {
		if technology == "" {
			continue
		}
		if _, ok := seen[technology]; ok {
			continue
		}
		seen[technology] = struct{}{}
		items = append(items, technology)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	return TechnologySet{items: items}
}

// Len returns the number of technologies.
func (s TechnologySet) Len() int {
	return len(s.items)
}

// IsEmpty reports whether the set has no technologies.
func (s TechnologySet) IsEmpty() bool {
	return len(s.items) == 0
}

// Contains reports membership of t.
func (s TechnologySet) Contains(t Technology) bool {
	for _, item := range s.items {
		if item == t {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every technology of other is in s.
func (s TechnologySet) ContainsAll(other TechnologySet) bool {
	for _, item := range other.items {
		if !s.Contains(item) {
			return false
		}
	}
	return true
}

// ContainsAny reports whether s and other share a technology.
func (s TechnologySet) ContainsAny(other TechnologySet) bool {
	for _, item := range other.items {
		if s.Contains(item) {
			return true
		}
	}
	return false
}

// Union returns the technologies of both sets.
func (s TechnologySet) Union(other TechnologySet) TechnologySet {
	all := make([]Technology, 0, len(s.items)+len(other.items))
	all = append(all, s.items...)
	all = append(all, other.items...)
	return NewTechnologySet(all...)
}

// Slice returns a copy of the members in order.
func (s TechnologySet) Slice() []Technology {
	out := make([]Technology, len(s.items))
	copy(out, s.items)
	return out
}

// Equal reports whether both sets hold the same technologies.
func (s TechnologySet) Equal(other TechnologySet) bool {
	return s.Len() == other.Len() && s.ContainsAll(other)
}

func (s TechnologySet) String() string {
	parts := make([]string, len(s.items))
	for i, item := range s.items {
		parts[i] = string(item)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
