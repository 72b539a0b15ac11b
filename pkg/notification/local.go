package notification

// LocalChannel delivers device-local alerts to a single user: a vibration
// pattern while an SOS hold is pending, and banner notifications. These are
// terminal side effects, never decision points.
type LocalChannel interface {
	// Vibrate starts a repeating on/off pattern, in milliseconds.
	Vibrate(pattern []int64)
	CancelVibration()
	ShowLocalNotification(title, body string)
}

// NopLocal is used where no client is attached (tests, offline users).
type NopLocal struct{}

func (NopLocal) Vibrate([]int64)                   {}
func (NopLocal) CancelVibration()                  {}
func (NopLocal) ShowLocalNotification(_, _ string) {}
