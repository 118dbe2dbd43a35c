package scheduler

import (
	"strings"
)

// ReportType identifies a diagnostic report.
type ReportType string

// Error reports explain why a candidate or a whole request failed.
const (
	ReportUserNotAllowed                    ReportType = "user-not-allowed"
	ReportUserNotOwner                      ReportType = "user-not-owner"
	ReportResourceNotFound                  ReportType = "resource-not-found"
	ReportResourceNotAllocatable            ReportType = "resource-not-allocatable"
	ReportResourceAlreadyAllocated          ReportType = "resource-already-allocated"
	ReportResourceUnderMaintenance          ReportType = "resource-under-maintenance"
	ReportResourceNotAvailable              ReportType = "resource-not-available"
	ReportResourceRoomCapacityExceeded      ReportType = "resource-room-capacity-exceeded"
	ReportResourceRecordingCapacityExceeded ReportType = "resource-recording-capacity-exceeded"
	ReportResourceNotEndpoint               ReportType = "resource-not-endpoint"
	ReportResourceMultipleRequested         ReportType = "resource-multiple-requested"
	ReportResourceSingleRoomLimitExceeded   ReportType = "resource-single-room-limit-exceeded"
	ReportEndpointNotFound                  ReportType = "endpoint-not-found"
	ReportRoomExecutableNotExists           ReportType = "room-executable-not-exists"
	ReportExecutableInvalidSlot             ReportType = "executable-invalid-slot"
	ReportExecutableAlreadyUsed             ReportType = "executable-already-used"
	ReportExecutableServiceInvalidSlot      ReportType = "executable-service-invalid-slot"
	ReportRoomEndpointAlwaysRecordable      ReportType = "room-endpoint-always-recordable"
	ReportReservationRequestInvalidSlot     ReportType = "reservation-request-invalid-slot"
	ReportReservationRequestDenied          ReportType = "reservation-request-denied"
	ReportReservationAlreadyUsed            ReportType = "reservation-already-used"
	ReportValueAlreadyAllocated             ReportType = "value-already-allocated"
	ReportValueInvalid                      ReportType = "value-invalid"
	ReportValueNotAvailable                 ReportType = "value-not-available"
	ReportAliasNotAvailable                 ReportType = "alias-not-available"
	ReportSpecificationNotReady             ReportType = "specification-not-ready"
	ReportSpecificationNotAllocatable       ReportType = "specification-not-allocatable"
	ReportMaximumDurationExceeded           ReportType = "maximum-duration-exceeded"
)

// Informational reports describe what the engine was doing.
const (
	ReportResource                          ReportType = "resource"
	ReportExecutableReusing                 ReportType = "executable-reusing"
	ReportReservationReusing                ReportType = "reservation-reusing"
	ReportAllocatingResource                ReportType = "allocating-resource"
	ReportAllocatingAlias                   ReportType = "allocating-alias"
	ReportAllocatingAliasSet                ReportType = "allocating-alias-set"
	ReportAllocatingValue                   ReportType = "allocating-value"
	ReportAllocatingRoom                    ReportType = "allocating-room"
	ReportAllocatingRecordingService        ReportType = "allocating-recording-service"
	ReportAllocatingExecutable              ReportType = "allocating-executable"
	ReportSpecificationCheckingAvailability ReportType = "specification-checking-availability"
	ReportFindingAvailableResource          ReportType = "finding-available-resource"
	ReportSortingResources                  ReportType = "sorting-resources"
	ReportCollidingReservations             ReportType = "colliding-reservations"
	ReportReallocatingReservationRequests   ReportType = "reallocating-reservation-requests"
	ReportReallocatingReservationRequest    ReportType = "reallocating-reservation-request"
)

var errorReports = map[ReportType]struct{}{
	ReportUserNotAllowed:                    {},
	ReportUserNotOwner:                      {},
	ReportResourceNotFound:                  {},
	ReportResourceNotAllocatable:            {},
	ReportResourceAlreadyAllocated:          {},
	ReportResourceUnderMaintenance:          {},
	ReportResourceNotAvailable:              {},
	ReportResourceRoomCapacityExceeded:      {},
	ReportResourceRecordingCapacityExceeded: {},
	ReportResourceNotEndpoint:               {},
	ReportResourceMultipleRequested:         {},
	ReportResourceSingleRoomLimitExceeded:   {},
	ReportEndpointNotFound:                  {},
	ReportRoomExecutableNotExists:           {},
	ReportExecutableInvalidSlot:             {},
	ReportExecutableAlreadyUsed:             {},
	ReportExecutableServiceInvalidSlot:      {},
	ReportRoomEndpointAlwaysRecordable:      {},
	ReportReservationRequestInvalidSlot:     {},
	ReportReservationRequestDenied:          {},
	ReportReservationAlreadyUsed:            {},
	ReportValueAlreadyAllocated:             {},
	ReportValueInvalid:                      {},
	ReportValueNotAvailable:                 {},
	ReportAliasNotAvailable:                 {},
	ReportSpecificationNotReady:             {},
	ReportSpecificationNotAllocatable:       {},
	ReportMaximumDurationExceeded:           {},
}

// Attr is a named report parameter.
type Attr struct {
	Key   string
	Value string
}

// Report is a node of the diagnostic tree produced while allocating.
type Report struct {
	Type     ReportType
	attrs    []Attr
	children []*Report
}

// NewReport returns a report with attributes given as key/value pairs. A
// trailing key without a value is dropped.
func NewReport(reportType ReportType, keyValues ...string) *Report {
	report := &Report{Type: reportType}
	for i := 0; i+1 < len(keyValues); i += 2 {
		report.attrs = append(report.attrs, Attr{Key: keyValues[i], Value: keyValues[i+1]})
	}
	return report
}

// IsError reports whether the report explains a failure.
func (r *Report) IsError() bool {
	_, ok := errorReports[r.Type]
	return ok
}

// Attr returns the value of key or the empty string.
func (r *Report) Attr(key string) string {
	for _, attr := range r.attrs {
		if attr.Key == key {
			return attr.Value
		}
	}
	return ""
}

// Attrs returns a copy of the attributes in insertion order.
func (r *Report) Attrs() []Attr {
	out := make([]Attr, len(r.attrs))
	copy(out, r.attrs)
	return out
}

// Children returns a copy of the child reports.
func (r *Report) Children() []*Report {
	out := make([]*Report, len(r.children))
	copy(out, r.children)
	return out
}

func (r *Report) addChild(child *Report) {
	if child == nil || child == r {
		return
	}
	r.children = append(r.children, child)
}

// Walk visits r and its descendants depth first.
func (r *Report) Walk(fn func(*Report)) {
	fn(r)
	for _, child := range r.children {
		child.Walk(fn)
	}
}

// Find returns the first report of the given type in the tree rooted at r.
func (r *Report) Find(reportType ReportType) *Report {
	var found *Report
	r.Walk(func(report *Report) {
		if found == nil && report.Type == reportType {
			found = report
		}
	})
	return found
}

// String renders the report without its children.
func (r *Report) String() string {
	if len(r.attrs) == 0 {
		return string(r.Type)
	}
	var b strings.Builder
	b.WriteString(string(r.Type))
	b.WriteString(" (")
	for i, attr := range r.attrs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(attr.Key)
		b.WriteString("=")
		b.WriteString(attr.Value)
	}
	b.WriteString(")")
	return b.String()
}

// Tree renders the report and its descendants, one per line.
func (r *Report) Tree() string {
	var b strings.Builder
	r.render(&b, 0)
	return strings.TrimSuffix(b.String(), "\n")
}

func (r *Report) render(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString("-")
	if r.IsError() {
		b.WriteString("!")
	}
	b.WriteString(" ")
	b.WriteString(r.String())
	b.WriteString("\n")
	for _, child := range r.children {
		child.render(b, depth+1)
	}
}
