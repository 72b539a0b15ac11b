package sos

import (
	"context"
	"encoding/json"
	"time"

	"EpiFind/internal/models"
	"EpiFind/internal/store"
	"EpiFind/pkg/errors"

	gocache "github.com/patrickmn/go-cache"
)

const snapshotKey = "users_snapshot"

// Directory reads and writes user records in the store. The full-directory
// snapshot used by the matcher is cached for a short TTL; every write through
// this type invalidates it.
type Directory struct {
	st   store.Store
	snap *gocache.Cache
	ttl  time.Duration
}

// NewDirectory creates a directory client. snapshotTTL <= 0 disables the
// snapshot cache (every AllProfiles hits the store).
func NewDirectory(st store.Store, snapshotTTL time.Duration) *Directory {
	d := &Directory{st: st, ttl: snapshotTTL}
	if snapshotTTL > 0 {
		d.snap = gocache.New(snapshotTTL, 10*snapshotTTL)
	}
	return d
}

// Profile fetches one user record.
func (d *Directory) Profile(ctx context.Context, userID string) (models.UserProfile, bool, error) {
	var p models.UserProfile
	ok, err := d.st.Get(ctx, userPath(userID), &p)
	if err != nil || !ok {
		return models.UserProfile{}, ok, err
	}
	p.UserID = userID
	return p, true, nil
}

// SaveProfile creates or overwrites the user's record. A zero response
// status defaults to Available.
func (d *Directory) SaveProfile(ctx context.Context, p models.UserProfile) error {
	if p.UserID == "" {
		return errors.WithCode(errors.CodeNotSignedIn, "no user id on profile")
	}
	if p.ResponseStatus == "" {
		p.ResponseStatus = models.StatusAvailable
	}
	if _, err := d.st.Set(ctx, userPath(p.UserID), p); err != nil {
		return errors.WrapCode(err, errors.CodeStoreWriteFailed, "save profile")
	}
	d.Invalidate()
	return nil
}

// AllProfiles returns a snapshot of every user record.
func (d *Directory) AllProfiles(ctx context.Context) ([]models.UserProfile, error) {
	if d.snap != nil {
		if v, ok := d.snap.Get(snapshotKey); ok {
			return v.([]models.UserProfile), nil
		}
	}

	children, err := d.st.Children(ctx, pathUsers)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	profiles := make([]models.UserProfile, 0, len(children))
	for id, raw := range children {
		var p models.UserProfile
		if err := json.Unmarshal(raw, &p); err != nil {
			continue // skip malformed records
		}
		p.UserID = id
		profiles = append(profiles, p)
	}

	if d.snap != nil {
		d.snap.Set(snapshotKey, profiles, d.ttl)
	}
	return profiles, nil
}

// Invalidate drops the directory snapshot cache.
func (d *Directory) Invalidate() {
	if d.snap != nil {
		d.snap.Delete(snapshotKey)
	}
}

// SetNeedsHelp flips the requester flag on the user's own record.
func (d *Directory) SetNeedsHelp(ctx context.Context, userID string, needsHelp bool) error {
	return d.update(ctx, userID, func(p *models.UserProfile) {
		p.NeedsHelp = needsHelp
	})
}

// SetResponseStatus writes the helper-facing status on the user's record.
func (d *Directory) SetResponseStatus(ctx context.Context, userID string, status models.ResponseStatus) error {
	return d.update(ctx, userID, func(p *models.UserProfile) {
		p.ResponseStatus = status
	})
}

// UpdateLocation records a fresh location fix.
func (d *Directory) UpdateLocation(ctx context.Context, userID string, lat, lon float64) error {
	return d.update(ctx, userID, func(p *models.UserProfile) {
		p.Latitude = lat
		p.Longitude = lon
	})
}

// ProfileComplete reports whether the activation gate is satisfied.
func (d *Directory) ProfileComplete(ctx context.Context, userID string) (bool, error) {
	p, ok, err := d.Profile(ctx, userID)
	if err != nil {
		return false, err
	}
	return ok && p.Complete(), nil
}

// update is a read-modify-write of the user's record. Records are
// single-writer (each user mutates only their own), so this does not race
// with other clients outside the documented resolution-sweep exception.
func (d *Directory) update(ctx context.Context, userID string, mutate func(*models.UserProfile)) error {
	p, ok, err := d.Profile(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "read profile")
	}
	if !ok {
		return errors.WithCodef(errors.CodeNotSignedIn, "user profile %s does not exist", userID)
	}
	mutate(&p)
	if _, err := d.st.Set(ctx, userPath(userID), p); err != nil {
		return errors.WrapCode(err, errors.CodeStoreWriteFailed, "update profile")
	}
	d.Invalidate()
	return nil
}
