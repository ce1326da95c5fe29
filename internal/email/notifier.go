package email

import (
	"context"
	"net/url"
	"strings"
	"time"

	"propman/internal/auth"
	"propman/internal/i18n"
)

// Notifier renders the account emails and hands them to a Mailer. The
// locale is taken from the request context.
type Notifier struct {
	Mailer   Mailer
	BaseURL  string
	ResetTTL time.Duration
}

func (n *Notifier) Welcome(ctx context.Context, u *auth.User) error {
	c := i18n.WelcomeEmail(i18n.LocaleFromContext(ctx),
		strings.TrimSpace(u.FirstName+" "+u.LastName), u.Email, string(u.Role), n.link("/login", ""))
	return n.Mailer.Send(ctx, Message{To: u.Email, Subject: c.Subject, Text: c.Text, HTML: c.HTML})
}

func (n *Notifier) PasswordReset(ctx context.Context, u *auth.User, token string) error {
	c := i18n.PasswordResetEmail(i18n.LocaleFromContext(ctx),
		n.link("/reset-password", token), token, int(n.ResetTTL.Minutes()))
	return n.Mailer.Send(ctx, Message{To: u.Email, Subject: c.Subject, Text: c.Text, HTML: c.HTML})
}

func (n *Notifier) link(path, token string) string {
	link := strings.TrimRight(n.BaseURL, "/") + path
	if token != "" {
		link += "?token=" + url.QueryEscape(token)
	}
	return link
}
