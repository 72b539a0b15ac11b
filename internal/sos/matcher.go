package sos

import "EpiFind/internal/models"

// FindNearby returns the subset of users eligible to help a requester at
// (originLat, originLon): they carry the device, are not themselves asking
// for help, are not the requester, and are within radiusMeters (inclusive at
// the boundary). Pure function over the snapshot; no ordering guarantee.
func FindNearby(originLat, originLon, radiusMeters float64, users []models.UserProfile, excludeUserID string) []models.UserProfile {
	matched := make([]models.UserProfile, 0, len(users))
	for _, u := range users {
		if !u.HasEpiPen || u.NeedsHelp || u.UserID == excludeUserID {
			continue
		}
		if Distance(originLat, originLon, u.Latitude, u.Longitude) <= radiusMeters {
			matched = append(matched, u)
		}
	}
	return matched
}
