package models

// Signal names emitted by the coordination engine. Presentation and
// side-effect listeners connect to these via util.Sig().
const (
	SigActivationStarted   = "sos.activation_started"    // sender: requester id
	SigActivationCancelled = "sos.activation_cancelled"  // sender: requester id
	SigActivationConfirmed = "sos.activation_confirmed"  // sender: *SOSRequest
	SigMatchSetUpdated     = "sos.match_set_updated"     // sender: requester id, params: []HelperStatus
	SigHelperStatusChanged = "sos.helper_status_changed" // sender: requester id, params: helper id, ResponseStatus
	SigResponseRecorded    = "sos.response_recorded"     // sender: helper id, params: requester id, canHelp
	SigRequestResolved     = "sos.request_resolved"      // sender: requester id
	SigRequestCancelFailed = "sos.request_cancel_failed" // sender: requester id, params: error
	SigDeviceExpiringSoon  = "sos.device_expiring_soon"  // sender: user id, params: days until expiry
)
