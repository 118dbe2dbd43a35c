package booking

import (
	"sort"
	"strings"
)

// AliasType identifies the kind of address an alias represents.
type AliasType string

const (
	AliasH323E164        AliasType = "H323_E164"
	AliasH323URI         AliasType = "H323_URI"
	AliasH323IP          AliasType = "H323_IP"
	AliasSIPURI          AliasType = "SIP_URI"
	AliasSIPIP           AliasType = "SIP_IP"
	AliasRoomName        AliasType = "ROOM_NAME"
	AliasAdobeConnectURI AliasType = "ADOBE_CONNECT_URI"
	AliasWebClientURI    AliasType = "WEB_CLIENT_URI"
)

var aliasTechnologies = map[AliasType]Technology{
	AliasH323E164:        TechnologyH323,
	AliasH323URI:         TechnologyH323,
	AliasH323IP:          TechnologyH323,
	AliasSIPURI:          TechnologySIP,
	AliasSIPIP:           TechnologySIP,
	AliasAdobeConnectURI: TechnologyAdobeConnect,
	AliasWebClientURI:    TechnologyWebRTC,
}

// Technology returns the technology the alias type belongs to. Room names are
// technology neutral and report the empty technology.
func (t AliasType) Technology() Technology {
	return aliasTechnologies[t]
}

// CompatibleWith reports whether aliases of this type can be assigned to a room
// with the given technologies.
func (t AliasType) CompatibleWith(technologies TechnologySet) bool {
	technology := t.Technology()
	if technology == "" {
		return true
	}
	return technology.CompatibleWith(technologies)
}

// Alias is an address by which a room can be reached.
type Alias struct {
	Type  AliasType
	Value string
}

// Technology returns the technology of the alias type.
func (a Alias) Technology() Technology {
	return a.Type.Technology()
}

func (a Alias) String() string {
	return string(a.Type) + ":" + a.Value
}

// AliasTemplate renders an alias of Type from an allocated value. The literal
// "{value}" in Pattern is replaced by the value.
type AliasTemplate struct {
	Type    AliasType
	Pattern string
}

// Render produces the alias for value.
func (t AliasTemplate) Render(value string) Alias {
	pattern := t.Pattern
	if pattern == "" {
		pattern = "{value}"
	}
	return Alias{Type: t.Type, Value: strings.ReplaceAll(pattern, "{value}", value)}
}

// AliasTypeSet is a small ordered set of alias types.
type AliasTypeSet map[AliasType]struct{}

// NewAliasTypeSet builds a set from the given types.
func NewAliasTypeSet(types ...AliasType) AliasTypeSet {
	set := make(AliasTypeSet, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

// Contains reports membership.
func (s AliasTypeSet) Contains(t AliasType) bool {
	_, ok := s[t]
	return ok
}

// Sorted returns the members in lexical order.
func (s AliasTypeSet) Sorted() []AliasType {
	out := make([]AliasType, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
