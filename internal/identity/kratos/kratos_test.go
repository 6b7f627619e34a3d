package kratos

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/membership-service/internal/config"
	"github.com/learnhub/membership-service/internal/identity"
)

// fakeAdmin serves the subset of the Kratos admin API the provider uses.
type fakeAdmin struct {
	mu         sync.Mutex
	identities map[string]map[string]interface{}
	nextID     int
	lastAuth   string
	lastPatch  []map[string]interface{}
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{identities: make(map[string]map[string]interface{})}
}

func (f *fakeAdmin) emailOf(ident map[string]interface{}) string {
	traits, _ := ident["traits"].(map[string]interface{})
	email, _ := traits["email"].(string)
	return email
}

func (f *fakeAdmin) taken(email, except string) bool {
	for id, ident := range f.identities {
		if id != except && f.emailOf(ident) == email {
			return true
		}
	}
	return false
}

func (f *fakeAdmin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAuth = r.Header.Get("Authorization")
	w.Header().Set("Content-Type", "application/json")

	id := strings.TrimPrefix(r.URL.Path, "/admin/identities")
	id = strings.TrimPrefix(id, "/")

	switch {
	case r.Method == http.MethodGet && id == "":
		want := r.URL.Query().Get("credentials_identifier")
		out := []map[string]interface{}{}
		for _, ident := range f.identities {
			if want == "" || f.emailOf(ident) == want {
				out = append(out, ident)
			}
		}
		_ = json.NewEncoder(w).Encode(out)

	case r.Method == http.MethodPost && id == "":
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		traits := body["traits"].(map[string]interface{})
		if f.taken(traits["email"].(string), "") {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"error":{"code":409,"message":"an identity with the same identifier already exists"}}`)
			return
		}
		f.nextID++
		newID := "kratos-" + string(rune('0'+f.nextID))
		ident := map[string]interface{}{
			"id":              newID,
			"schema_id":       body["schema_id"],
			"schema_url":      "http://kratos/schemas/default",
			"traits":          traits,
			"metadata_public": body["metadata_public"],
			"created_at":      "2026-01-02T03:04:05Z",
		}
		f.identities[newID] = ident
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(ident)

	case r.Method == http.MethodGet:
		ident, ok := f.identities[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(ident)

	case r.Method == http.MethodPatch:
		ident, ok := f.identities[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
			return
		}
		var ops []map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&ops)
		f.lastPatch = ops
		for _, op := range ops {
			switch op["path"] {
			case "/traits/email":
				email := op["value"].(string)
				if f.taken(email, id) {
					w.WriteHeader(http.StatusConflict)
					_, _ = io.WriteString(w, `{"error":{"code":409,"message":"conflict"}}`)
					return
				}
				ident["traits"].(map[string]interface{})["email"] = email
			case "/metadata_public":
				ident["metadata_public"] = op["value"]
			}
		}
		_ = json.NewEncoder(w).Encode(ident)

	case r.Method == http.MethodDelete:
		if _, ok := f.identities[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
			return
		}
		delete(f.identities, id)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestProvider(t *testing.T) (*Provider, *fakeAdmin) {
	t.Helper()
	fake := newFakeAdmin()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	p, err := New(&config.KratosConfig{AdminURL: srv.URL, AdminToken: "admin-token", SchemaID: "collaborator"})
	require.NoError(t, err)
	return p, fake
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(&config.KratosConfig{AdminURL: "not a url", SchemaID: "default"})
	assert.Error(t, err)
}

func TestRegisteredWithFactory(t *testing.T) {
	cfg := &config.Config{Identity: config.IdentityConfig{
		Backend: "kratos",
		Kratos:  config.KratosConfig{AdminURL: "http://kratos:4434", SchemaID: "default"},
	}}
	p, err := identity.NewProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Provider{}, p)
}

func TestCreateFindAndDelete(t *testing.T) {
	ctx := context.Background()
	p, fake := newTestProvider(t)

	created, err := p.Create(ctx, "Ana@X.com", "initial-secret-123", identity.Metadata{Role: "collaborator", TenantID: "t1", DisplayName: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "ana@x.com", created.Email)
	assert.Equal(t, "t1", created.Metadata.TenantID)
	assert.Equal(t, "Bearer admin-token", fake.lastAuth)

	found, err := p.FindByEmail(ctx, "ana@x.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	missing, err := p.FindByEmail(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, p.Delete(ctx, created.ID))
	gone, err := p.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.ErrorIs(t, p.Delete(ctx, created.ID), identity.ErrNotFound)
}

func TestCreate_ConflictMapsToSentinel(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	_, err := p.Create(ctx, "dup@x.com", "initial-secret-123", identity.Metadata{})
	require.NoError(t, err)
	_, err = p.Create(ctx, "dup@x.com", "initial-secret-456", identity.Metadata{})
	assert.ErrorIs(t, err, identity.ErrEmailConflict)
}

func TestChangeEmail(t *testing.T) {
	ctx := context.Background()
	p, fake := newTestProvider(t)

	a, err := p.Create(ctx, "a@x.com", "initial-secret-123", identity.Metadata{})
	require.NoError(t, err)
	_, err = p.Create(ctx, "taken@x.com", "initial-secret-123", identity.Metadata{})
	require.NoError(t, err)

	assert.ErrorIs(t, p.ChangeEmail(ctx, a.ID, "taken@x.com"), identity.ErrEmailConflict)

	require.NoError(t, p.ChangeEmail(ctx, a.ID, "New@X.com"))
	require.Len(t, fake.lastPatch, 1)
	assert.Equal(t, "replace", fake.lastPatch[0]["op"])
	assert.Equal(t, "new@x.com", fake.lastPatch[0]["value"])

	got, err := p.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", got.Email)
}

func TestUpdateMetadata(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	a, err := p.Create(ctx, "a@x.com", "initial-secret-123", identity.Metadata{TenantID: "t1"})
	require.NoError(t, err)

	require.NoError(t, p.UpdateMetadata(ctx, a.ID, identity.Metadata{TenantID: "t2", Role: "collaborator"}))
	got, err := p.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "t2", got.Metadata.TenantID)
	assert.Equal(t, "collaborator", got.Metadata.Role)

	assert.ErrorIs(t, p.UpdateMetadata(ctx, "missing", identity.Metadata{}), identity.ErrNotFound)
}

func TestServerErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"code":500,"message":"boom"}}`)
	}))
	defer srv.Close()

	p, err := New(&config.KratosConfig{AdminURL: srv.URL, SchemaID: "default"})
	require.NoError(t, err)

	_, err = p.FindByEmail(context.Background(), "a@x.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, identity.ErrEmailConflict)
	assert.Contains(t, err.Error(), "kratos list identities failed")
}
