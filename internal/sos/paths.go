package sos

// Store path layout. One request and one notification slot per user; new
// publishes overwrite.
const (
	pathUsers         = "users"
	pathRequests      = "sos_requests"
	pathNotifications = "sos_notifications"
	pathResponses     = "sos_responses"
	pathLatest        = "latest_sos"
)

func userPath(userID string) string { return pathUsers + "/" + userID }

func requestPath(requesterID string) string { return pathRequests + "/" + requesterID }

func notificationPath(helperID string) string { return pathNotifications + "/" + helperID }

func responsesPath(requesterID string) string { return pathResponses + "/" + requesterID }

func responsePath(requesterID, helperID string) string {
	return pathResponses + "/" + requesterID + "/" + helperID
}
