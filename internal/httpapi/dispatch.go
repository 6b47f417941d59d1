package httpapi

import (
	"net/http"

	"github.com/thin-edge/tedge-core/internal/domain"
)

// entityTailRouter dispatches everything under /te/v1/entities/ once a
// concrete topic id is present in the path. A topic id is 1-4 segments;
// "twin" and an optional fragment key may follow it, so the wildcard
// remainder is split on the literal "twin" segment rather than matched with
// chi's fixed-arity {param} (spec §4.E: trailing empty topic-id segments
// are optional on the URL path).
func (s *Server) entityTailRouter(w http.ResponseWriter, r *http.Request) {
	tail := splitTail(r.URL.Path[len("/te/v1/entities/"):])
	topicParts, rest := splitOnKeyword(tail, "twin")

	id, err := domain.ParseTopicID(joinParts(topicParts))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed topic id")
		return
	}

	if rest == nil {
		switch r.Method {
		case http.MethodGet:
			s.handleGetEntity(w, r, id)
		case http.MethodPatch:
			s.handleUpdateEntity(w, r, id)
		case http.MethodDelete:
			s.handleDeleteEntity(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodPut:
			s.handleReplaceTwin(w, r, id)
		case http.MethodGet:
			s.handleGetTwin(w, r, id)
		case http.MethodDelete:
			s.handleDeleteTwin(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	key := rest[0]
	switch r.Method {
	case http.MethodPut:
		s.handleSetTwinFragment(w, r, id, key)
	case http.MethodGet:
		s.handleGetTwinFragment(w, r, id, key)
	case http.MethodDelete:
		s.handleDeleteTwinFragment(w, r, id, key)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// commandRouter dispatches /te/v1/commands/<t>/<d>/<sns>/<sid>/<operation>[/<command-id>].
// Unlike the entity routes, a segment always follows the topic id here, so
// (unlike §4.E) all four topic-id segments must be given explicitly —
// including empty ones — to keep the split unambiguous.
func (s *Server) commandRouter(w http.ResponseWriter, r *http.Request) {
	parts := splitTail(r.URL.Path[len("/te/v1/commands/"):])
	if len(parts) < 5 {
		writeError(w, http.StatusBadRequest, "expected /<type-ns>/<device-id>/<service-ns>/<service-id>/<operation>[/<command-id>]")
		return
	}

	topicParts := parts[:4]
	operation := parts[4]
	var commandID string
	if len(parts) >= 6 {
		commandID = parts[5]
	}

	id, err := domain.ParseTopicID(joinParts(topicParts))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed topic id")
		return
	}

	if commandID == "" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleStartCommand(w, r, id, operation)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleCommandStatus(w, r, id, operation, commandID)
	case http.MethodDelete:
		s.handleCancelCommand(w, r, id, operation, commandID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// splitOnKeyword finds keyword in parts and returns the segments before it
// and after it. If keyword is absent, rest is nil (distinct from an empty,
// present-but-keyless match).
func splitOnKeyword(parts []string, keyword string) (before, rest []string) {
	for i, p := range parts {
		if p == keyword {
			return parts[:i], parts[i+1:]
		}
	}
	return parts, nil
}

func joinParts(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}
