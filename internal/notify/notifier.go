// Package notify sends the emails that accompany membership changes: an invitation
// carrying the initial credential when a new identity is created, and a notice when
// a dormant membership is reactivated.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/learnhub/membership-service/internal/db/models"
	"github.com/learnhub/membership-service/internal/telemetry"
)

// TenantNames resolves a tenant's display name. Implemented by repositories.TenantRepository.
type TenantNames interface {
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
}

var (
	invitationTmpl = template.Must(template.New("invitation").Parse(`Hello {{.Name}},

You have been added as a collaborator to {{.Tenant}}.

Sign in at {{.LoginURL}} with:
  Email:    {{.Email}}
  Password: {{.Credential}}

You will be asked to choose a new password the first time you sign in.
`))

	reactivationTmpl = template.Must(template.New("reactivation").Parse(`Hello {{.Name}},

Your access to {{.Tenant}} has been restored.

Sign in at {{.LoginURL}} with your existing email ({{.Email}}) and password.
`))
)

type templateData struct {
	Name       string
	Email      string
	Tenant     string
	LoginURL   string
	Credential string
}

// EmailNotifier implements membership.Notifier over a Mailer
type EmailNotifier struct {
	mailer   Mailer
	tenants  TenantNames
	loginURL string
}

// NewEmailNotifier creates an EmailNotifier. tenants may be nil, in which case
// emails refer to the tenant by ID.
func NewEmailNotifier(mailer Mailer, tenants TenantNames, loginURL string) *EmailNotifier {
	return &EmailNotifier{mailer: mailer, tenants: tenants, loginURL: loginURL}
}

// SendInvitation emails a newly created collaborator their initial credential
func (n *EmailNotifier) SendInvitation(ctx context.Context, m *models.Membership, initialCredential string) error {
	data := n.data(ctx, m)
	data.Credential = initialCredential
	return n.send(ctx, "invitation", invitationTmpl, m.Email, "You've been invited to "+data.Tenant, data)
}

// SendReactivation tells a returning collaborator their access is back
func (n *EmailNotifier) SendReactivation(ctx context.Context, m *models.Membership) error {
	data := n.data(ctx, m)
	return n.send(ctx, "reactivation", reactivationTmpl, m.Email, "Your access to "+data.Tenant+" was restored", data)
}

func (n *EmailNotifier) data(ctx context.Context, m *models.Membership) templateData {
	d := templateData{Name: m.DisplayName, Email: m.Email, Tenant: m.TenantID, LoginURL: n.loginURL}
	if n.tenants != nil {
		if t, err := n.tenants.GetByID(ctx, m.TenantID); err == nil && t != nil {
			switch {
			case t.DisplayName != "":
				d.Tenant = t.DisplayName
			case t.Name != "":
				d.Tenant = t.Name
			}
		}
	}
	return d
}

func (n *EmailNotifier) send(ctx context.Context, name string, tmpl *template.Template, to, subject string, data templateData) error {
	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to render %s email: %w", name, err)
	}
	if err := n.mailer.Send(ctx, to, subject, body.String()); err != nil {
		return fmt.Errorf("failed to send %s email: %w", name, err)
	}
	telemetry.NotificationsSentTotal.WithLabelValues(name).Inc()
	return nil
}
