package hub

// Reader is the receive side of a client connection.
type Reader interface {
	ReadMessage() ([]byte, error)
}

// HandleMessage decodes one control message from c and replies to it.
// Malformed input is answered with an error envelope; the connection stays open.
func (h *Hub) HandleMessage(c *Conn, data []byte) {
	msg, err := ParseClientMessage(data)
	if err != nil {
		h.logger.Debug("rejected client message", "client_id", c.id, "error", err)
		h.reply(c, Error{Message: errorText(err)})
		return
	}

	switch m := msg.(type) {
	case SubscribeRequest:
		if !h.subscribeConn(c, SubscriptionKey(m.ItemName, m.ServerID)) {
			h.logger.Debug("dropped subscribe from replaced connection", "client_id", c.id)
			return
		}
		h.reply(c, Subscribed{ItemName: m.ItemName, ServerID: m.ServerID})
	case UnsubscribeRequest:
		if !h.unsubscribeConn(c, SubscriptionKey(m.ItemName, m.ServerID)) {
			h.logger.Debug("dropped unsubscribe from replaced connection", "client_id", c.id)
			return
		}
		h.reply(c, Unsubscribed{ItemName: m.ItemName, ServerID: m.ServerID})
	case PingRequest:
		h.reply(c, Pong{})
	case StatusRequest:
		h.mu.Lock()
		info := infoLocked(c)
		h.mu.Unlock()
		h.reply(c, Status{Info: info})
	}
}

func (h *Hub) reply(c *Conn, m ServerMessage) {
	if err := c.send(m); err != nil {
		h.logger.Debug("failed to send reply", "client_id", c.id, "type", m.MessageType(), "error", err)
	}
}

// Serve reads control messages from r until it fails, then releases c.
func (h *Hub) Serve(c *Conn, r Reader) error {
	defer h.Release(c)

	for {
		data, err := r.ReadMessage()
		if err != nil {
			return err
		}
		h.HandleMessage(c, data)
	}
}
