// Package scim receives SCIM 2.0 provisioning requests and turns them into
// directory events for subscribers. It is the push half of directory sync:
// the identity provider calls these endpoints, subscribers reconcile.
package scim

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dtroode/keyhaven-identity/internal/logger"
	"github.com/dtroode/keyhaven-identity/internal/model"
)

const errorSchema = "urn:ietf:params:scim:api:messages:2.0:Error"

var _ model.DirectoryProvider = (*Handler)(nil)

// Handler is the per-organization SCIM endpoint. Each request authenticates
// with the organization's provisioning secret as a bearer token.
type Handler struct {
	orgStore    model.OrgStore
	subscribers []model.DirectorySubscriber
	mux         *http.ServeMux
	logger      *logger.Logger
}

func NewHandler(orgStore model.OrgStore, logger *logger.Logger) *Handler {
	h := &Handler{
		orgStore: orgStore,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /{org}/Users", h.userCreated)
	mux.HandleFunc("PUT /{org}/Users/{id}", h.userUpdated)
	mux.HandleFunc("DELETE /{org}/Users/{id}", h.userDeleted)
	mux.HandleFunc("POST /{org}/Groups", h.groupCreated)
	mux.HandleFunc("PUT /{org}/Groups/{id}", h.groupUpdated)
	mux.HandleFunc("DELETE /{org}/Groups/{id}", h.groupDeleted)
	h.mux = mux

	return h
}

// Subscribe registers a subscriber for all future events.
func (h *Handler) Subscribe(sub model.DirectorySubscriber) {
	h.subscribers = append(h.subscribers, sub)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// scimUser is the subset of the SCIM core user schema the receiver reads.
type scimUser struct {
	Schemas    []string `json:"schemas,omitempty"`
	ExternalID string   `json:"externalId,omitempty"`
	UserName   string   `json:"userName"`
	Active     *bool    `json:"active,omitempty"`
	Name       struct {
		Formatted string `json:"formatted"`
	} `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Emails      []struct {
		Value   string `json:"value"`
		Primary bool   `json:"primary"`
	} `json:"emails,omitempty"`
}

type scimGroup struct {
	Schemas     []string `json:"schemas,omitempty"`
	ExternalID  string   `json:"externalId,omitempty"`
	DisplayName string   `json:"displayName"`
}

func (u *scimUser) email() string {
	for _, e := range u.Emails {
		if e.Primary {
			return e.Value
		}
	}
	if len(u.Emails) > 0 {
		return u.Emails[0].Value
	}
	return u.UserName
}

func (u *scimUser) directoryUser() model.DirectoryUser {
	name := u.Name.Formatted
	if name == "" {
		name = u.DisplayName
	}
	active := true
	if u.Active != nil {
		active = *u.Active
	}
	return model.DirectoryUser{
		ExternalID: u.ExternalID,
		Email:      model.NormalizeEmail(u.email()),
		Name:       name,
		Active:     active,
	}
}

// authorize checks the bearer secret against the organization's
// provisioning settings. Failures are indistinguishable on purpose.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID := r.PathValue("org")

	org, err := h.orgStore.Get(r.Context(), orgID)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return "", false
	}

	if org.Directory.SyncProvider != model.DirectoryProviderSCIM || len(org.Directory.SCIMSecret) == 0 {
		h.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return "", false
	}

	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		h.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return "", false
	}

	if subtle.ConstantTimeCompare([]byte(header[len(prefix):]), org.Directory.SCIMSecret) != 1 {
		h.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return "", false
	}

	return orgID, true
}

func (h *Handler) userCreated(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var user scimUser
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed user resource")
		return
	}
	if user.email() == "" {
		h.writeError(w, http.StatusBadRequest, "user has no email")
		return
	}

	h.deliver(orgID, func(sub model.DirectorySubscriber) error {
		return sub.UserCreated(r.Context(), user.directoryUser(), orgID)
	})

	w.Header().Set("Content-Type", "application/scim+json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(user)
}

func (h *Handler) userUpdated(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	userID := r.PathValue("id")

	var user scimUser
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed user resource")
		return
	}

	h.deliver(orgID, func(sub model.DirectorySubscriber) error {
		return sub.UserUpdated(r.Context(), user.directoryUser(), orgID, userID)
	})

	w.Header().Set("Content-Type", "application/scim+json")
	_ = json.NewEncoder(w).Encode(user)
}

func (h *Handler) userDeleted(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	userID := r.PathValue("id")

	h.deliver(orgID, func(sub model.DirectorySubscriber) error {
		return sub.UserDeleted(r.Context(), model.DirectoryUser{}, orgID, userID)
	})

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) groupCreated(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var group scimGroup
	if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed group resource")
		return
	}
	if group.DisplayName == "" {
		h.writeError(w, http.StatusBadRequest, "group has no name")
		return
	}

	h.deliver(orgID, func(sub model.DirectorySubscriber) error {
		return sub.GroupCreated(r.Context(), model.DirectoryGroup{
			ExternalID: group.ExternalID,
			Name:       group.DisplayName,
		}, orgID)
	})

	w.Header().Set("Content-Type", "application/scim+json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(group)
}

func (h *Handler) groupUpdated(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var group scimGroup
	if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed group resource")
		return
	}

	h.deliverGroupChange(w, r, orgID, func(sub model.DirectorySubscriber) error {
		return sub.GroupUpdated(r.Context(), model.DirectoryGroup{
			ExternalID: group.ExternalID,
			Name:       group.DisplayName,
		}, orgID)
	})
}

func (h *Handler) groupDeleted(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	h.deliverGroupChange(w, r, orgID, func(sub model.DirectorySubscriber) error {
		return sub.GroupDeleted(r.Context(), model.DirectoryGroup{}, orgID)
	})
}

// deliver fans a fire-and-forget event out to all subscribers.
func (h *Handler) deliver(orgID string, event func(model.DirectorySubscriber) error) {
	for _, sub := range h.subscribers {
		if err := event(sub); err != nil {
			h.logger.Error("SCIM handler: subscriber rejected event",
				"org_id", orgID,
				"error", err.Error())
		}
	}
}

// deliverGroupChange surfaces subscriber failures to the provider. Group
// replace and delete are the operations subscribers may refuse outright.
func (h *Handler) deliverGroupChange(w http.ResponseWriter, r *http.Request, orgID string, event func(model.DirectorySubscriber) error) {
	for _, sub := range h.subscribers {
		if err := event(sub); err != nil {
			if errors.Is(err, model.ErrUnsupported) {
				h.writeError(w, http.StatusNotImplemented, "group modification is not supported")
				return
			}
			h.logger.Error("SCIM handler: subscriber rejected group change",
				"org_id", orgID,
				"error", err.Error())
			h.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/scim+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"schemas": []string{errorSchema},
		"status":  status,
		"detail":  detail,
	})
}
