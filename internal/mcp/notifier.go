package mcp

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/optimistic"
)

// Notifier reports mutations the server rejected: to the log, and to the
// MCP client as a logging notification once the server is running.
type Notifier struct {
	logger *logrus.Logger

	mu  sync.Mutex
	enc *json.Encoder
}

var _ optimistic.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier that only logs until attached to a Server
func NewNotifier(logger *logrus.Logger) *Notifier {
	return &Notifier{logger: logger}
}

func (n *Notifier) attach(w io.Writer) {
	n.mu.Lock()
	n.enc = json.NewEncoder(w)
	n.mu.Unlock()
}

// write encodes one JSON-RPC message; responses and notifications share the
// stream so writes are serialized
func (n *Notifier) write(msg interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.enc == nil {
		return nil
	}
	return n.enc.Encode(msg)
}

// Notify implements optimistic.Notifier
func (n *Notifier) Notify(note optimistic.Notification) {
	entry := n.logger.WithFields(logrus.Fields{
		"op":  note.Op,
		"ids": note.IDs,
	})
	if note.Err != nil {
		entry = entry.WithError(note.Err)
	}
	entry.Warn("Server rejected mutation")

	data := map[string]interface{}{
		"op":  string(note.Op),
		"ids": note.IDs,
	}
	if note.Err != nil {
		data["error"] = note.Err.Error()
	}
	err := n.write(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notifications/message",
		"params": map[string]interface{}{
			"level":  "error",
			"logger": "mailsync",
			"data":   data,
		},
	})
	if err != nil {
		n.logger.WithError(err).Error("Failed to send notification")
	}
}
