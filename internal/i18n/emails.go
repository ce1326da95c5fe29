package i18n

import (
	"html"
	"strconv"
	"strings"
)

type EmailContent struct {
	Subject string
	Text    string
	HTML    string
}

type emailStrings struct {
	WelcomeSubject string
	WelcomeText    string
	WelcomeHTML    string

	PasswordResetSubject string
	PasswordResetText    string
	PasswordResetHTML    string
}

var emailTranslations = map[string]emailStrings{
	"en": {
		WelcomeSubject: "Welcome to Property Management",
		WelcomeText: "Hi {name},\n\nyour account has been created. You can now sign in at {link} with {email}.\n\n" +
			"Role: {role}",
		WelcomeHTML: "<p>Hi {name},</p>" +
			"<p>your account has been created. You can now sign in with <strong>{email}</strong>.</p>" +
			"<p><a href=\"{link}\">Sign in</a></p>" +
			"<p>Role: {role}</p>",

		PasswordResetSubject: "Reset your password",
		PasswordResetText: "Reset your password: {link}\nOr use this token: {token}\n" +
			"It expires in {minutes} minutes.\nIf you did not request this, ignore this email.",
		PasswordResetHTML: "<p>Password reset</p>" +
			"<p>Click the button to reset your password.</p>" +
			"<p><a href=\"{link}\">Reset password</a></p>" +
			"<p>Token: <code>{token}</code></p>" +
			"<p>The link expires in {minutes} minutes.</p>" +
			"<p>If you did not request this, ignore this email.</p>",
	},
	"de": {
		WelcomeSubject: "Willkommen bei Property Management",
		WelcomeText: "Hallo {name},\n\ndein Konto wurde erstellt. Du kannst dich jetzt unter {link} mit {email} anmelden.\n\n" +
			"Rolle: {role}",
		WelcomeHTML: "<p>Hallo {name},</p>" +
			"<p>dein Konto wurde erstellt. Du kannst dich jetzt mit <strong>{email}</strong> anmelden.</p>" +
			"<p><a href=\"{link}\">Anmelden</a></p>" +
			"<p>Rolle: {role}</p>",

		PasswordResetSubject: "Passwort zurücksetzen",
		PasswordResetText: "Passwort zurücksetzen: {link}\nOder nutze diesen Token: {token}\n" +
			"Er läuft in {minutes} Minuten ab.\nWenn du das nicht angefordert hast, ignoriere diese E-Mail.",
		PasswordResetHTML: "<p>Passwort zurücksetzen</p>" +
			"<p>Klicke auf den Button, um dein Passwort zurückzusetzen.</p>" +
			"<p><a href=\"{link}\">Passwort zurücksetzen</a></p>" +
			"<p>Token: <code>{token}</code></p>" +
			"<p>Der Link läuft in {minutes} Minuten ab.</p>" +
			"<p>Wenn du das nicht angefordert hast, ignoriere diese E-Mail.</p>",
	},
}

func emailStringsForLocale(locale string) emailStrings {
	if s, ok := emailTranslations[NormalizeLocale(locale)]; ok {
		return s
	}
	return emailTranslations[DefaultLocale]
}

// render substitutes {key} placeholders. Values are HTML-escaped when
// escape is set.
func render(tmpl string, values map[string]string, escape bool) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		if escape {
			v = html.EscapeString(v)
		}
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func content(subject, text, htmlTmpl string, values map[string]string) EmailContent {
	return EmailContent{
		Subject: subject,
		Text:    render(text, values, false),
		HTML:    render(htmlTmpl, values, true),
	}
}

func WelcomeEmail(locale, name, email, role, link string) EmailContent {
	s := emailStringsForLocale(locale)
	return content(s.WelcomeSubject, s.WelcomeText, s.WelcomeHTML, map[string]string{
		"name":  name,
		"email": email,
		"role":  role,
		"link":  link,
	})
}

func PasswordResetEmail(locale, link, token string, minutes int) EmailContent {
	s := emailStringsForLocale(locale)
	return content(s.PasswordResetSubject, s.PasswordResetText, s.PasswordResetHTML, map[string]string{
		"link":    link,
		"token":   token,
		"minutes": strconv.Itoa(minutes),
	})
}
