package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stevemurr/typed-doc-server/collection"
	"github.com/stevemurr/typed-doc-server/model"
	"github.com/stevemurr/typed-doc-server/objectid"
	"github.com/stevemurr/typed-doc-server/schema"
	"github.com/stevemurr/typed-doc-server/store"
	"github.com/stevemurr/typed-doc-server/user"
)

const maxListLimit = 100

// UserCreate is the request body of POST /users.
type UserCreate struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// UserPatch is the request body of PATCH /users/{id}. Absent fields are left
// unchanged.
type UserPatch struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

// UserRead is the response shape of a stored user:
// {"_id": "...", "firstName": "...", "lastName": "..."}.
type UserRead = model.Identified[user.User]

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var body UserCreate
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	u := user.User{FirstName: body.FirstName, LastName: body.LastName}
	if err := user.Info.Validate(u); err != nil {
		writeError(w, http.StatusUnprocessableEntity, validationDetail(err))
		return
	}
	created, err := h.users.InsertOne(r.Context(), u)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	users, err := h.users.Find(r.Context(), opts)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) countUsers(w http.ResponseWriter, r *http.Request) {
	n, err := h.users.CountDocuments(r.Context(), firstNameFilter(r.URL.Query().Get("q")))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	got, found, err := h.users.FindByID(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (h *Handler) patchUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var body UserPatch
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	set, err := patchSet(body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	filter := store.Filter{model.IDKey: id}
	updated, changed, err := h.users.UpdateOne(r.Context(), filter, store.Update{"$set": set})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if changed {
		writeJSON(w, http.StatusOK, updated)
		return
	}
	// Nothing was modified: either the user does not exist or it already
	// had these values.
	current, found, err := h.users.FindByID(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	deleted, err := h.users.DeleteOne(r.Context(), store.Filter{model.IDKey: id})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------- request parsing ----------

func parseID(w http.ResponseWriter, r *http.Request) (objectid.ID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := objectid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid ObjectId: %s", raw))
		return objectid.Nil, false
	}
	return id, true
}

// firstNameFilter matches users whose first name matches the regex q. An
// empty q matches everyone.
func firstNameFilter(q string) store.Filter {
	if q == "" {
		return nil
	}
	key, _ := user.Info.KeyFor("FirstName")
	return store.Filter{key: store.Filter{"$regex": q}}
}

func parseListQuery(r *http.Request) (collection.FindOptions, error) {
	q := r.URL.Query()
	opts := collection.FindOptions{Filter: firstNameFilter(q.Get("q"))}

	if s := q.Get("skip"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("skip must be a non-negative integer, got %q", s)
		}
		opts.Skip = n
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 1 || n > maxListLimit {
			return opts, fmt.Errorf("limit must be an integer between 1 and %d, got %q", maxListLimit, s)
		}
		opts.Limit = n
	}
	if s := q.Get("sort"); s != "" {
		sort, err := parseSort(s)
		if err != nil {
			return opts, err
		}
		opts.Sort = sort
	}
	return opts, nil
}

// parseSort parses "key,-other". Keys may be storage keys or Go field names
// of the user model, plus _id.
func parseSort(s string) ([]store.SortField, error) {
	var out []store.SortField
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		dir := 1
		if strings.HasPrefix(part, "-") {
			dir = -1
			part = part[1:]
		}
		key := part
		if key != model.IDKey {
			if _, ok := user.Info.FieldByKey(key); !ok {
				mapped, ok := user.Info.KeyFor(key)
				if !ok {
					return nil, fmt.Errorf("cannot sort by %q", part)
				}
				key = mapped
			}
		}
		out = append(out, store.SortField{Key: key, Direction: dir})
	}
	return out, nil
}

// patchSet builds the $set document for a patch, keyed by storage keys.
func patchSet(p UserPatch) (store.Document, error) {
	set := store.Document{}
	fields := []struct {
		name  string
		value *string
	}{
		{"FirstName", p.FirstName},
		{"LastName", p.LastName},
	}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		field, _ := user.Info.FieldByName(f.name)
		if len([]rune(*f.value)) < field.MinLen {
			return nil, fmt.Errorf("%s must be at least %d characters", field.Key, field.MinLen)
		}
		set[field.Key] = *f.value
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	return set, nil
}

// validationDetail renders a schema violation for API clients.
func validationDetail(err error) string {
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		field := strings.TrimPrefix(strings.TrimPrefix(ve.Path, "$"), ".")
		if field == "" {
			return ve.Reason
		}
		return field + ": " + ve.Reason
	}
	return err.Error()
}
