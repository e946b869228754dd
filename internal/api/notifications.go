package api

import (
	"net/http"
	"strconv"

	"github.com/habitloop/engine/internal/notifications"
)

// handleListNotifications exposes the delivered-notification log behind the
// same filters notifications.Service.List already understands.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := notifications.NotificationFilter{
		PersonID: q.Get("personId"),
		Type:     notifications.NotificationType(q.Get("type")),
	}
	if v := q.Get("unreadOnly"); v == "true" {
		unread := false
		filter.Read = &unread
	}
	if v := q.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			filter.Limit = limit
		}
	}

	list, err := s.notifService.List(r.Context(), filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}
