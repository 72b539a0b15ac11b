package websocket

// Routes registered by the websocket handler.
const (
	RouteWebSocket       = "/ws"
	RouteWebSocketStats  = "/ws/stats"
	RouteWebSocketHealth = "/ws/health"
)

// Wire message types understood by clients. The coordination layer addresses
// these by the same string values.
const (
	MessageTypeVibrate       = "vibrate"
	MessageTypeVibrateCancel = "vibrate_cancel"
	MessageTypeLocalNotice   = "local_notification"
	MessageTypeAck           = "ack"
	MessageTypePing          = "ping"
)
