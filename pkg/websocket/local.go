package websocket

// UserChannel adapts the hub into a per-user haptic and notification
// channel: vibration and local-notification commands become websocket
// messages the client device executes.
type UserChannel struct {
	hub    *Hub
	userID string
}

func NewUserChannel(hub *Hub, userID string) *UserChannel {
	return &UserChannel{hub: hub, userID: userID}
}

// Vibrate asks the client to run the given waveform pattern (ms on/off pairs).
func (u *UserChannel) Vibrate(pattern []int64) {
	u.hub.SendToUser(u.userID, MessageTypeVibrate, map[string]interface{}{"pattern": pattern})
}

// CancelVibration stops a running pattern.
func (u *UserChannel) CancelVibration() {
	u.hub.SendToUser(u.userID, MessageTypeVibrateCancel, nil)
}

// ShowLocalNotification displays a banner on the client.
func (u *UserChannel) ShowLocalNotification(title, body string) {
	u.hub.SendToUser(u.userID, MessageTypeLocalNotice, map[string]string{
		"title": title,
		"body":  body,
	})
}
