package notify

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/godbus/dbus/v5"
)

const (
	notificationsService = "org.freedesktop.Notifications"
	notificationsPath    = "/org/freedesktop/Notifications"
	notifyMethod         = notificationsService + ".Notify"

	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

// DBus posts desktop notifications through org.freedesktop.Notifications.
type DBus struct {
	AppName string
	// Timeout is the expiry in milliseconds; -1 lets the server decide.
	Timeout int32

	conn *dbus.Conn
	mu   sync.Mutex
}

// NewDBus connects to the session bus.
func NewDBus(appName string) (*DBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &DBus{AppName: appName, Timeout: -1, conn: conn}, nil
}

// Close releases the bus connection.
func (d *DBus) Close() error {
	return d.conn.Close()
}

func (d *DBus) NotifySuccess(message string) {
	d.send(d.AppName, message, "camera-photo", urgencyNormal)
}

func (d *DBus) NotifyError(message string) {
	d.send(d.AppName+" error", message, "dialog-error", urgencyCritical)
}

func (d *DBus) send(summary, body, icon string, urgency byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgency),
	}
	call := d.conn.Object(notificationsService, notificationsPath).Go(
		notifyMethod,
		dbus.FlagNoReplyExpected,
		nil,
		d.AppName,
		uint32(0),
		icon,
		summary,
		body,
		[]string{},
		hints,
		d.Timeout,
	)
	if call.Err != nil {
		logger.WithComponent("notify").Warn().
			Err(call.Err).
			Str("summary", summary).
			Msg("Failed to send desktop notification")
	}
}
