package models

// ResponseStatus is the helper-facing availability status.
type ResponseStatus string

const (
	StatusAvailable   ResponseStatus = "AVAILABLE"
	StatusResponding  ResponseStatus = "RESPONDING"
	StatusUnavailable ResponseStatus = "UNAVAILABLE"
)

// Valid reports whether s is one of the three known statuses.
func (s ResponseStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusResponding, StatusUnavailable:
		return true
	}
	return false
}

// UserProfile is one registered user's record in the store, keyed by userId.
// The location fields are written by the location-update path and consumed
// read-only by the coordination core.
type UserProfile struct {
	UserID         string         `json:"userId"`
	Name           string         `json:"name"`
	Allergies      string         `json:"allergies"`
	EpiPenExpiry   string         `json:"epiPenExpiry"` // dd/MM/yyyy
	Latitude       float64        `json:"latitude"`
	Longitude      float64        `json:"longitude"`
	HasEpiPen      bool           `json:"hasEpiPen"`
	NeedsHelp      bool           `json:"needsHelp"`
	ResponseStatus ResponseStatus `json:"responseStatus"`
}

// Complete reports whether the profile carries everything activation
// requires: name, allergies and the device expiry date.
func (p UserProfile) Complete() bool {
	return p.Name != "" && p.Allergies != "" && p.EpiPenExpiry != ""
}

// SOSRequest is the canonical record of one active request, keyed by the
// requester's id — at most one exists per requester. Its presence in the
// store is the authoritative "active" signal for every observer.
type SOSRequest struct {
	Requester string  `json:"requester"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"` // store-assigned, milliseconds
	Active    bool    `json:"active"`
}

// SOSResponse is one helper's answer to one request, written under
// sos_responses/{requester}/{helper}. Never updated in place.
type SOSResponse struct {
	CanHelp   bool  `json:"canHelp"`
	Timestamp int64 `json:"timestamp"` // store-assigned, milliseconds
}

// RequestView is the tagged presence/absence of a request record, replacing
// a nullable pointer: either NoRequest() or ActiveRequest(record).
type RequestView struct {
	exists  bool
	request SOSRequest
}

func NoRequest() RequestView { return RequestView{} }

func ActiveRequest(r SOSRequest) RequestView { return RequestView{exists: true, request: r} }

// Get returns the record and whether one exists.
func (v RequestView) Get() (SOSRequest, bool) { return v.request, v.exists }

func (v RequestView) Exists() bool { return v.exists }

// HelperStatus pairs a matched helper with their live response status,
// for the requester's match-set view.
type HelperStatus struct {
	Profile  UserProfile    `json:"profile"`
	Status   ResponseStatus `json:"status"`
	Distance float64        `json:"distanceMeters"`
}

// NavigationHint is the destination surfaced to a helper who answered yes.
type NavigationHint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
