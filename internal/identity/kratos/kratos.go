// Package kratos implements the identity provider on top of the Ory Kratos admin API.
//
// The email is the identity's credentials identifier (traits.email). Cached membership
// metadata lives in metadata_public so the login UI can read the tenant hint.
package kratos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	kratosclient "github.com/ory/kratos-client-go"

	"github.com/learnhub/membership-service/internal/config"
	"github.com/learnhub/membership-service/internal/db/models"
	"github.com/learnhub/membership-service/internal/identity"
	"github.com/learnhub/membership-service/internal/telemetry"
)

func init() {
	identity.Register("kratos", func(cfg *config.Config) (identity.Provider, error) {
		return New(&cfg.Identity.Kratos)
	})
}

// Provider talks to the Kratos admin API
type Provider struct {
	api      *kratosclient.APIClient
	schemaID string
}

// New creates a Kratos-backed provider
func New(cfg *config.KratosConfig) (*Provider, error) {
	u, err := url.Parse(cfg.AdminURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid Kratos admin URL: %q", cfg.AdminURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	kc := kratosclient.NewConfiguration()
	kc.Servers = []kratosclient.ServerConfiguration{{URL: cfg.AdminURL}}
	kc.HTTPClient = &http.Client{Timeout: timeout}
	kc.AddDefaultHeader("Accept", "application/json")
	if cfg.AdminToken != "" {
		kc.AddDefaultHeader("Authorization", "Bearer "+cfg.AdminToken)
	}

	slog.Info("kratos identity provider initialised", "admin_url", cfg.AdminURL, "schema_id", cfg.SchemaID)

	return &Provider{
		api:      kratosclient.NewAPIClient(kc),
		schemaID: cfg.SchemaID,
	}, nil
}

// FindByEmail looks the identity up by credentials identifier
func (p *Provider) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	key := models.NormalizeEmail(email)
	list, resp, err := p.api.IdentityAPI.ListIdentities(ctx).CredentialsIdentifier(key).Execute()
	if err != nil {
		return nil, classify(err, resp, "list identities")
	}
	for i := range list {
		if id := toIdentity(&list[i]); id.Email == key {
			return id, nil
		}
	}
	return nil, nil
}

// Get returns the identity with the given ID, or nil when Kratos reports 404
func (p *Provider) Get(ctx context.Context, id string) (*identity.Identity, error) {
	ki, resp, err := p.api.IdentityAPI.GetIdentity(ctx, id).Execute()
	if err != nil {
		if statusOf(resp) == http.StatusNotFound {
			return nil, nil
		}
		return nil, classify(err, resp, "get identity")
	}
	return toIdentity(ki), nil
}

// Create registers a new identity with a password credential
func (p *Provider) Create(ctx context.Context, email, initialCredential string, md identity.Metadata) (*identity.Identity, error) {
	traits := map[string]interface{}{"email": models.NormalizeEmail(email)}
	if md.DisplayName != "" {
		traits["name"] = md.DisplayName
	}

	md.UpdatedAt = time.Now().UTC()
	body := kratosclient.NewCreateIdentityBody(p.schemaID, traits)
	body.SetMetadataPublic(md)
	password := initialCredential
	body.SetCredentials(kratosclient.IdentityWithCredentials{
		Password: &kratosclient.IdentityWithCredentialsPassword{
			Config: &kratosclient.IdentityWithCredentialsPasswordConfig{Password: &password},
		},
	})

	ki, resp, err := p.api.IdentityAPI.CreateIdentity(ctx).CreateIdentityBody(*body).Execute()
	if err != nil {
		return nil, classify(err, resp, "create identity")
	}
	return toIdentity(ki), nil
}

// UpdateMetadata overwrites metadata_public
func (p *Provider) UpdateMetadata(ctx context.Context, id string, md identity.Metadata) error {
	md.UpdatedAt = time.Now().UTC()
	return p.patch(ctx, id, "update identity metadata", kratosclient.JsonPatch{
		Op:    "add",
		Path:  "/metadata_public",
		Value: md,
	})
}

// ChangeEmail replaces traits.email
func (p *Provider) ChangeEmail(ctx context.Context, id, newEmail string) error {
	return p.patch(ctx, id, "change identity email", kratosclient.JsonPatch{
		Op:    "replace",
		Path:  "/traits/email",
		Value: models.NormalizeEmail(newEmail),
	})
}

// Delete removes the identity
func (p *Provider) Delete(ctx context.Context, id string) error {
	resp, err := p.api.IdentityAPI.DeleteIdentity(ctx, id).Execute()
	if err != nil {
		return classify(err, resp, "delete identity")
	}
	return nil
}

func (p *Provider) patch(ctx context.Context, id, operation string, ops ...kratosclient.JsonPatch) error {
	_, resp, err := p.api.IdentityAPI.PatchIdentity(ctx, id).JsonPatch(ops).Execute()
	if err != nil {
		return classify(err, resp, operation)
	}
	return nil
}

// classify maps Kratos HTTP failures onto identity sentinel errors
func classify(err error, resp *http.Response, operation string) error {
	switch statusOf(resp) {
	case http.StatusConflict:
		return identity.ErrEmailConflict
	case http.StatusNotFound:
		return identity.ErrNotFound
	}

	var apiErr *kratosclient.GenericOpenAPIError
	if errors.As(err, &apiErr) {
		slog.Warn("kratos request failed",
			"operation", operation,
			"http_status", statusOf(resp),
			"body", truncate(string(apiErr.Body()), 512))
	}
	return fmt.Errorf("kratos %s failed: %w", operation, err)
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func toIdentity(ki *kratosclient.Identity) *identity.Identity {
	out := &identity.Identity{
		ID:        ki.Id,
		CreatedAt: ki.GetCreatedAt(),
	}
	if traits, ok := ki.GetTraits().(map[string]interface{}); ok {
		if email, ok := traits["email"].(string); ok {
			out.Email = models.NormalizeEmail(email)
		}
	}
	if raw := ki.GetMetadataPublic(); raw != nil {
		// Metadata is a cache; an unreadable value is treated as empty.
		if b, err := json.Marshal(raw); err == nil {
			if err := json.Unmarshal(b, &out.Metadata); err != nil {
				slog.Debug("ignoring unreadable identity metadata", "identity_id", ki.Id, "error", err)
			}
		}
	}
	if out.Email == "" {
		slog.Warn("kratos identity has no email trait", "identity_id", ki.Id)
	} else {
		slog.Debug("kratos identity resolved", "identity_id", ki.Id, "email", telemetry.MaskEmail(out.Email))
	}
	return out
}
