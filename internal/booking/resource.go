package booking

import "time"

// DeviceResource represents a schedulable device and the capabilities it
// advertises.
type DeviceResource struct {
	ID           string
	Name         string
	ParentID     string
	Technologies TechnologySet
	// Allocatable is false for resources withdrawn from scheduling.
	Allocatable bool
	// MaximumFuture bounds how far ahead of the request time the resource may
	// be booked. Zero means unrestricted.
	MaximumFuture time.Duration
	// Terminal marks end-user devices that are booked as endpoints.
	Terminal bool

	RoomProvider   *RoomProviderCapability
	AliasProviders []*AliasProviderCapability
	Recording      *RecordingCapability
}

// HasTechnologies reports whether the device supports every technology.
func (r *DeviceResource) HasTechnologies(technologies TechnologySet) bool {
	return r.Technologies.ContainsAll(technologies)
}

// RoomProviderCapability describes a device able to host virtual rooms.
type RoomProviderCapability struct {
	ID         string
	ResourceID string
	// LicenseCount is the total number of concurrent participants.
	LicenseCount int
	// MaxLicencesPerRoom limits a single room. Zero means unrestricted.
	MaxLicencesPerRoom int
	RequiredAliasTypes []AliasType
	// RoomRecordable marks providers whose rooms record without a separate
	// recorder allocation.
	RoomRecordable bool
}

// RequiredAliasTypesFor returns the required alias types compatible with the
// room technologies.
func (c *RoomProviderCapability) RequiredAliasTypesFor(technologies TechnologySet) AliasTypeSet {
	set := make(AliasTypeSet, len(c.RequiredAliasTypes))
	for _, aliasType := range c.RequiredAliasTypes {
		if aliasType.CompatibleWith(technologies) {
			set[aliasType] = struct{}{}
		}
	}
	return set
}

// AliasProviderCapability describes a device that hands out aliases backed by
// a value provider.
type AliasProviderCapability struct {
	ID              string
	ResourceID      string
	Aliases         []AliasTemplate
	ValueProviderID string
	// RestrictedToResource limits the aliases to rooms on ResourceID.
	RestrictedToResource bool
	// PermanentRoom makes every allocation establish a room endpoint on
	// ResourceID that carries the aliases.
	PermanentRoom bool
}

// ProvidesAliasType reports whether any template produces t.
func (c *AliasProviderCapability) ProvidesAliasType(t AliasType) bool {
	for _, template := range c.Aliases {
		if template.Type == t {
			return true
		}
	}
	return false
}

// ProvidesAliasTypes reports whether every type in types is produced.
func (c *AliasProviderCapability) ProvidesAliasTypes(types []AliasType) bool {
	for _, t := range types {
		if !c.ProvidesAliasType(t) {
			return false
		}
	}
	return true
}

// Technologies returns the technologies of the produced aliases.
func (c *AliasProviderCapability) Technologies() TechnologySet {
	technologies := make([]Technology, 0, len(c.Aliases))
	for _, template := range c.Aliases {
		if technology := template.Type.Technology(); technology != "" {
			technologies = append(technologies, technology)
		}
	}
	return NewTechnologySet(technologies...)
}

// ProvidesTechnologies reports whether the produced aliases cover every
// requested technology.
func (c *AliasProviderCapability) ProvidesTechnologies(technologies TechnologySet) bool {
	return c.Technologies().ContainsAll(technologies)
}

// RenderAliases produces the aliases for an allocated value.
func (c *AliasProviderCapability) RenderAliases(value string) []Alias {
	aliases := make([]Alias, 0, len(c.Aliases))
	for _, template := range c.Aliases {
		aliases = append(aliases, template.Render(value))
	}
	return aliases
}

// RecordingCapability describes a device able to record rooms.
type RecordingCapability struct {
	ID         string
	ResourceID string
	// LicenseCount is the number of concurrent recordings. Zero means
	// unlimited.
	LicenseCount int
}
