package handlers

import "time"

func (h *Handler) SetHeartbeat(d time.Duration) {
	h.heartbeat = d
}

func (h *Handler) StreamClients() int {
	return h.hub.clients()
}

func (h *Handler) StreamWatching() bool {
	return h.hub.watching()
}
