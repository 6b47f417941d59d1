package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/thin-edge/tedge-core/internal/domain"
)

type entityPayload struct {
	TopicID    string
	Type       string
	Parent     *string
	ExternalID string
	Health     *string
	Fragments  map[string]any
}

// decodeEntityPayload reads the request body once, keeping the "@"-prefixed
// registration fields in p and everything else as twin fragments.
func decodeEntityPayload(r *http.Request) (entityPayload, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return entityPayload{}, err
	}
	var p entityPayload
	p.Fragments = make(map[string]any)
	for k, v := range raw {
		switch k {
		case "@topic-id":
			_ = json.Unmarshal(v, &p.TopicID)
		case "@type":
			_ = json.Unmarshal(v, &p.Type)
		case "@parent":
			var s string
			if json.Unmarshal(v, &s) == nil {
				p.Parent = &s
			}
		case "@id":
			_ = json.Unmarshal(v, &p.ExternalID)
		case "@health":
			var s string
			if json.Unmarshal(v, &s) == nil {
				p.Health = &s
			}
		default:
			var val any
			_ = json.Unmarshal(v, &val)
			p.Fragments[k] = val
		}
	}
	return p, nil
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	p, err := decodeEntityPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}
	id, err := domain.ParseTopicID(p.TopicID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed @topic-id")
		return
	}
	e := domain.Entity{
		TopicID:    id,
		EntityType: domain.EntityType(p.Type),
		ExternalID: p.ExternalID,
		Twin:       p.Fragments,
	}
	if p.Parent != nil {
		parentID, err := domain.ParseTopicID(*p.Parent)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed @parent")
			return
		}
		e.ParentTopicID = &parentID
	}
	if p.Health != nil {
		healthID, err := domain.ParseTopicID(*p.Health)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed @health")
			return
		}
		e.HealthEndpointTopicID = &healthID
	}

	if err := s.store.Register(r.Context(), e); err != nil {
		writeError(w, statusForEntityErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, e.RegistrationPayload())
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request, id domain.TopicID) {
	e, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusForEntityErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, e.RegistrationPayload())
}

func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request, id domain.TopicID) {
	var body struct {
		Parent *string `json:"@parent"`
		Health *string `json:"@health"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}

	err := s.store.Update(r.Context(), id, func(e *domain.Entity) error {
		if body.Parent != nil {
			if *body.Parent == "" {
				e.ParentTopicID = nil
			} else {
				parentID, err := domain.ParseTopicID(*body.Parent)
				if err != nil {
					return err
				}
				e.ParentTopicID = &parentID
			}
		}
		if body.Health != nil {
			if *body.Health == "" {
				e.HealthEndpointTopicID = nil
			} else {
				healthID, err := domain.ParseTopicID(*body.Health)
				if err != nil {
					return err
				}
				e.HealthEndpointTopicID = &healthID
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, statusForEntityErr(err), err.Error())
		return
	}
	e, _ := s.store.Get(r.Context(), id)
	writeJSON(w, http.StatusOK, e.RegistrationPayload())
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request, id domain.TopicID) {
	removed, err := s.store.Delete(r.Context(), id, true)
	if err != nil {
		writeError(w, statusForEntityErr(err), err.Error())
		return
	}
	if len(removed) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	ids := make([]string, len(removed))
	for i, t := range removed {
		ids[i] = t.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": ids})
}

func (s *Server) handleQueryEntities(w http.ResponseWriter, r *http.Request) {
	q := domain.EntityQuery{}
	query := r.URL.Query()

	if root := query.Get("root"); root != "" {
		id, err := domain.ParseTopicID(root)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed root")
			return
		}
		q.RootTopicID = &id
	}
	if parent := query.Get("parent"); parent != "" {
		id, err := domain.ParseTopicID(parent)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed parent")
			return
		}
		q.ParentTopicID = &id
	}
	if t := query.Get("type"); t != "" {
		q.EntityType = domain.EntityType(t)
		q.HasEntityType = true
	}

	entities, err := s.store.Query(r.Context(), q)
	if err != nil {
		writeError(w, statusForEntityErr(err), err.Error())
		return
	}
	out := make([]map[string]any, len(entities))
	for i, e := range entities {
		out[i] = e.RegistrationPayload()
	}
	writeJSON(w, http.StatusOK, out)
}

// ─── Twin sub-resource ───────────────────────────────────────────────────

func (s *Server) handleReplaceTwin(w http.ResponseWriter, r *http.Request, id domain.TopicID) {
	var twin map[string]any
	if err := json.NewDecoder(r.Body).Decode(&twin); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}
	if err := s.store.ReplaceTwin(r.Context(), id, twin); err != nil {
		writeError(w, statusForEntityErr(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTwin(w http.ResponseWriter, r *http.Request, id domain.TopicID) {
	twin, err := s.store.GetTwin(r.Context(), id)
	if err != nil {
		writeError(w, statusForEntityErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, twin)
}

func (s *Server) handleDeleteTwin(w http.ResponseWriter, r *http.Request, id domain.TopicID) {
	if err := s.store.ReplaceTwin(r.Context(), id, nil); err != nil {
		writeError(w, statusForEntityErr(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTwinFragment(w http.ResponseWriter, r *http.Request, id domain.TopicID, key string) {
	if strings.HasPrefix(key, "@") {
		writeError(w, http.StatusBadRequest, "reserved twin fragment key")
		return
	}
	var value any
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return
	}
	if err := s.store.SetTwinFragment(r.Context(), id, key, value); err != nil {
		writeError(w, statusForEntityErr(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTwinFragment(w http.ResponseWriter, r *http.Request, id domain.TopicID, key string) {
	twin, err := s.store.GetTwin(r.Context(), id)
	if err != nil {
		writeError(w, statusForEntityErr(err), err.Error())
		return
	}
	value, ok := twin[key]
	if !ok {
		writeError(w, http.StatusNotFound, "twin fragment not found")
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Server) handleDeleteTwinFragment(w http.ResponseWriter, r *http.Request, id domain.TopicID, key string) {
	if err := s.store.SetTwinFragment(r.Context(), id, key, nil); err != nil {
		writeError(w, statusForEntityErr(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
