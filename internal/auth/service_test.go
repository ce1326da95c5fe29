package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"propman/internal/apperr"
)

type fakeNotifier struct {
	mu          sync.Mutex
	welcomed    []string
	resetTokens map[string]string
	welcomeErr  error
	resetErr    error
}

func (n *fakeNotifier) Welcome(_ context.Context, u *User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.welcomeErr != nil {
		return n.welcomeErr
	}
	n.welcomed = append(n.welcomed, u.Email)
	return nil
}

func (n *fakeNotifier) PasswordReset(_ context.Context, u *User, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resetErr != nil {
		return n.resetErr
	}
	if n.resetTokens == nil {
		n.resetTokens = map[string]string{}
	}
	n.resetTokens[u.Email] = token
	return nil
}

type pipeline struct {
	svc      *Service
	store    *memStore
	notifier *fakeNotifier
	clock    *fakeClock
	totp     *TOTPService
	logs     *logtest.Hook
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newMemStore()
	notifier := &fakeNotifier{}
	totp := &TOTPService{Issuer: "Property Management", Now: clock.Now}
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	svc := NewService(store, &BcryptHasher{Cost: bcrypt.MinCost}, totp, newTestTokens(clock), notifier, logger, time.Hour)
	svc.Now = clock.Now
	return &pipeline{svc: svc, store: store, notifier: notifier, clock: clock, totp: totp, logs: hook}
}

func (p *pipeline) signup(t *testing.T, email string, twoFactor bool) *User {
	t.Helper()
	u, err := p.svc.Signup(context.Background(), SignupInput{
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Email:           email,
		Password:        "Secret1",
		Role:            "CLIENT",
		EnableTwoFactor: twoFactor,
	})
	require.NoError(t, err)
	return u
}

func adminCtx() context.Context {
	return WithIdentity(context.Background(), Identity{UserID: 999, Email: "admin@property.com", Role: RoleAdmin, Authenticated: true})
}

func TestSignupThenLogin(t *testing.T) {
	p := newPipeline(t)
	u := p.signup(t, "a@x.com", false)
	assert.Equal(t, RoleClient, u.Role)
	assert.Equal(t, []string{"a@x.com"}, p.notifier.welcomed)

	res, err := p.svc.Login(context.Background(), "a@x.com", "Secret1")
	require.NoError(t, err)
	assert.True(t, res.Authenticated)
	assert.False(t, res.TwoFactorEnabled)
	assert.Equal(t, []string{"ROLE_CLIENT"}, res.Roles)
	assert.Equal(t, "Bearer", res.Type)
	assert.Equal(t, u.ID, res.ID)
	assert.True(t, p.svc.Tokens.Validate(res.Token))

	id, err := p.svc.Tokens.IdentityFromToken(res.Token)
	require.NoError(t, err)
	assert.True(t, id.Authenticated)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	p := newPipeline(t)
	p.signup(t, "a@x.com", false)

	_, unknown := p.svc.Login(context.Background(), "nobody@x.com", "Secret1")
	_, wrong := p.svc.Login(context.Background(), "a@x.com", "Wrong1")

	require.Error(t, unknown)
	require.Error(t, wrong)
	assert.ErrorIs(t, unknown, apperr.ErrBadCredentials)
	assert.ErrorIs(t, wrong, apperr.ErrBadCredentials)
	assert.Equal(t, unknown.Error(), wrong.Error())
}

func TestLoginDisabledUser(t *testing.T) {
	p := newPipeline(t)
	u := p.signup(t, "a@x.com", false)
	_, err := p.store.Update(context.Background(), u.ID, func(u *User) error {
		u.Enabled = false
		return nil
	})
	require.NoError(t, err)

	_, err = p.svc.Login(context.Background(), "a@x.com", "Secret1")
	assert.ErrorIs(t, err, apperr.ErrBadCredentials)
}

func TestTwoFactorLogin(t *testing.T) {
	p := newPipeline(t)
	u := p.signup(t, "a@x.com", true)
	require.True(t, u.TwoFactorEnabled)
	require.NotNil(t, u.TwoFactorSecret)

	pending, err := p.svc.Login(context.Background(), "a@x.com", "Secret1")
	require.NoError(t, err)
	assert.False(t, pending.Authenticated)
	assert.True(t, pending.TwoFactorEnabled)

	_, err = p.svc.VerifyTwoFactor(context.Background(), pending.Token, wrongCode(t, p, *u.TwoFactorSecret))
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	res, err := p.svc.VerifyTwoFactor(context.Background(), pending.Token, codeAt(t, *u.TwoFactorSecret, p.clock.t))
	require.NoError(t, err)
	assert.True(t, res.Authenticated)
	assert.NotEqual(t, pending.Token, res.Token)

	id, err := p.svc.Tokens.IdentityFromToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id.UserID)
	assert.True(t, id.Authenticated)
}

func TestVerifyTwoFactorIgnoresAmbientIdentity(t *testing.T) {
	p := newPipeline(t)
	victim := p.signup(t, "victim@x.com", true)
	attacker := p.signup(t, "attacker@x.com", true)

	pending, err := p.svc.Login(context.Background(), "attacker@x.com", "Secret1")
	require.NoError(t, err)

	ctx := WithIdentity(context.Background(), IdentityFor(victim, false))
	res, err := p.svc.VerifyTwoFactor(ctx, pending.Token, codeAt(t, *attacker.TwoFactorSecret, p.clock.t))
	require.NoError(t, err)
	assert.Equal(t, attacker.ID, res.ID)
}

func TestVerifyTwoFactorRejections(t *testing.T) {
	p := newPipeline(t)
	u := p.signup(t, "a@x.com", true)
	pending, err := p.svc.Login(context.Background(), "a@x.com", "Secret1")
	require.NoError(t, err)
	code := codeAt(t, *u.TwoFactorSecret, p.clock.t)

	_, err = p.svc.VerifyTwoFactor(context.Background(), "garbage", code)
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	assert.EqualError(t, err, "Invalid token")

	_, err = p.svc.VerifyTwoFactor(context.Background(), pending.Token, "12345")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	p.clock.Advance(2 * time.Hour)
	_, err = p.svc.VerifyTwoFactor(context.Background(), pending.Token, codeAt(t, *u.TwoFactorSecret, p.clock.t))
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	p.clock.Advance(-2 * time.Hour)
	require.NoError(t, p.store.Delete(context.Background(), u.ID))
	_, err = p.svc.VerifyTwoFactor(context.Background(), pending.Token, code)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	p := newPipeline(t)
	p.signup(t, "a@x.com", false)

	for _, in := range []SignupInput{
		{FirstName: "B", LastName: "C", Email: "a@x.com", Password: "Another1"},
		{FirstName: "D", LastName: "E", Email: "A@X.COM", Password: "Secret1", Role: "AGENT", EnableTwoFactor: true},
	} {
		_, err := p.svc.Signup(context.Background(), in)
		assert.ErrorIs(t, err, apperr.ErrConflict)
	}
}

func TestSignupValidationAggregatesFields(t *testing.T) {
	p := newPipeline(t)

	_, err := p.svc.Signup(context.Background(), SignupInput{Email: "not-an-email", Password: "123", Role: "OWNER"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"email", "firstName", "lastName", "password", "role"}, sortedKeys(appErr.Fields))
}

func TestSignupAdminRequiresAdminCaller(t *testing.T) {
	p := newPipeline(t)
	in := SignupInput{FirstName: "Root", LastName: "User", Email: "root@x.com", Password: "Secret1", Role: "ADMIN"}

	_, err := p.svc.Signup(context.Background(), in)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)

	u, err := p.svc.Signup(adminCtx(), in)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)
}

func TestSignupWelcomeFailureIsIgnored(t *testing.T) {
	p := newPipeline(t)
	p.notifier.welcomeErr = assert.AnError

	u := p.signup(t, "a@x.com", false)
	assert.NotZero(t, u.ID)

	var warned bool
	for _, e := range p.logs.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "welcome email failed") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestForgotPassword(t *testing.T) {
	p := newPipeline(t)
	u := p.signup(t, "a@x.com", false)

	err := p.svc.ForgotPassword(context.Background(), "nobody@x.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.EqualError(t, err, "User not found with email: nobody@x.com")

	require.NoError(t, p.svc.ForgotPassword(context.Background(), "A@x.com"))
	token := p.notifier.resetTokens["a@x.com"]
	require.Len(t, token, resetTokenBytes*2)

	stored := p.store.get(u.ID)
	require.NotNil(t, stored.PasswordResetToken)
	require.NotNil(t, stored.PasswordResetTokenExpiry)
	assert.Equal(t, HashString(token), *stored.PasswordResetToken)
	assert.NotEqual(t, token, *stored.PasswordResetToken)
	assert.Equal(t, p.clock.t.Add(time.Hour), *stored.PasswordResetTokenExpiry)
}

func TestForgotPasswordDeliveryFailureRollsBack(t *testing.T) {
	p := newPipeline(t)
	u := p.signup(t, "a@x.com", false)
	p.notifier.resetErr = assert.AnError

	err := p.svc.ForgotPassword(context.Background(), "a@x.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	_, isAppErr := apperr.As(err)
	assert.False(t, isAppErr)

	stored := p.store.get(u.ID)
	assert.Nil(t, stored.PasswordResetToken)
	assert.Nil(t, stored.PasswordResetTokenExpiry)
}

// stalledNotifier never completes a reset mail before its context ends.
type stalledNotifier struct{ *fakeNotifier }

func (n stalledNotifier) PasswordReset(ctx context.Context, _ *User, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestForgotPasswordMailTimeout(t *testing.T) {
	p := newPipeline(t)
	u := p.signup(t, "a@x.com", false)
	p.svc.Notifier = stalledNotifier{p.notifier}
	p.svc.MailTimeout = 20 * time.Millisecond

	err := p.svc.ForgotPassword(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, p.store.get(u.ID).PasswordResetToken)
}

func TestEmailRegistered(t *testing.T) {
	p := newPipeline(t)
	p.signup(t, "a@x.com", false)
	ctx := context.Background()

	taken, err := p.svc.EmailRegistered(ctx, "A@X.com")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = p.svc.EmailRegistered(ctx, "b@x.com")
	require.NoError(t, err)
	assert.False(t, taken)

	taken, err = p.svc.EmailRegistered(ctx, "  ")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestResetPasswordTokenIsSingleUse(t *testing.T) {
	p := newPipeline(t)
	u := p.signup(t, "a@x.com", false)
	require.NoError(t, p.svc.ForgotPassword(context.Background(), "a@x.com"))
	token := p.notifier.resetTokens["a@x.com"]

	require.NoError(t, p.svc.ResetPassword(context.Background(), ResetPasswordInput{Token: token, NewPassword: "Fresh99"}))

	stored := p.store.get(u.ID)
	assert.Nil(t, stored.PasswordResetToken)
	assert.Nil(t, stored.PasswordResetTokenExpiry)

	_, err := p.svc.Login(context.Background(), "a@x.com", "Fresh99")
	require.NoError(t, err)

	err = p.svc.ResetPassword(context.Background(), ResetPasswordInput{Token: token, NewPassword: "Again99"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestResetPasswordConcurrentConfirmations(t *testing.T) {
	p := newPipeline(t)
	p.signup(t, "a@x.com", false)
	require.NoError(t, p.svc.ForgotPassword(context.Background(), "a@x.com"))
	token := p.notifier.resetTokens["a@x.com"]

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.svc.ResetPassword(context.Background(), ResetPasswordInput{Token: token, NewPassword: "Fresh99"})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, notFound int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.ErrNotFound == kindOf(err):
			notFound++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, notFound)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	p := newPipeline(t)
	p.signup(t, "a@x.com", false)
	require.NoError(t, p.svc.ForgotPassword(context.Background(), "a@x.com"))
	token := p.notifier.resetTokens["a@x.com"]

	p.clock.Advance(time.Hour + time.Second)
	err := p.svc.ResetPassword(context.Background(), ResetPasswordInput{Token: token, NewPassword: "Fresh99"})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	assert.EqualError(t, err, "Password reset token has expired")
}

func TestResetPasswordRequestShape(t *testing.T) {
	p := newPipeline(t)

	err := p.svc.ResetPassword(context.Background(), ResetPasswordInput{NewPassword: "Fresh99"})
	assert.EqualError(t, err, "Email or token must be provided")

	err = p.svc.ResetPassword(context.Background(), ResetPasswordInput{Token: "x", NewPassword: "123"})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	err = p.svc.ResetPassword(context.Background(), ResetPasswordInput{Token: "unknown", NewPassword: "Fresh99"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestResetPasswordByEmail(t *testing.T) {
	p := newPipeline(t)
	u := p.signup(t, "a@x.com", false)
	in := ResetPasswordInput{Email: "a@x.com", NewPassword: "Fresh99"}

	err := p.svc.ResetPassword(context.Background(), in)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	other := WithIdentity(context.Background(), Identity{UserID: 77, Email: "b@x.com", Role: RoleAgent, Authenticated: true})
	assert.ErrorIs(t, p.svc.ResetPassword(other, in), apperr.ErrAccessDenied)

	pendingOwner := WithIdentity(context.Background(), IdentityFor(u, false))
	assert.ErrorIs(t, p.svc.ResetPassword(pendingOwner, in), apperr.ErrAccessDenied)

	owner := WithIdentity(context.Background(), IdentityFor(u, true))
	require.NoError(t, p.svc.ResetPassword(owner, in))

	err = p.svc.ResetPassword(adminCtx(), ResetPasswordInput{Email: "ghost@x.com", NewPassword: "Fresh99"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = p.svc.Login(context.Background(), "a@x.com", "Fresh99")
	assert.NoError(t, err)
}

func TestTwoFactorProvisioningDoesNotEnable(t *testing.T) {
	p := newPipeline(t)
	u := p.signup(t, "a@x.com", false)

	uri, err := p.svc.TwoFactorProvisioning(context.Background(), u.ID, ProvisioningURI)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/"))

	stored := p.store.get(u.ID)
	require.NotNil(t, stored.TwoFactorSecret)
	assert.False(t, stored.TwoFactorEnabled)
	assert.Contains(t, uri, "secret="+*stored.TwoFactorSecret)

	again, err := p.svc.TwoFactorProvisioning(context.Background(), u.ID, ProvisioningURI)
	require.NoError(t, err)
	assert.Equal(t, uri, again)

	qr, err := p.svc.TwoFactorProvisioning(context.Background(), u.ID, ProvisioningQR)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(qr, "data:image/png;base64,"))

	_, err = p.svc.TwoFactorProvisioning(context.Background(), 404, ProvisioningURI)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEnableTwoFactorWithWrongCodeKeepsFlag(t *testing.T) {
	p := newPipeline(t)
	u := p.signup(t, "a@x.com", false)
	_, err := p.svc.TwoFactorProvisioning(context.Background(), u.ID, ProvisioningURI)
	require.NoError(t, err)
	secret := *p.store.get(u.ID).TwoFactorSecret
	if p.totp.Verify(secret, "000000") {
		t.Skip("000000 happens to be a valid code for this secret")
	}

	err = p.svc.EnableTwoFactor(context.Background(), u.ID, "000000")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	assert.False(t, p.store.get(u.ID).TwoFactorEnabled)
}

func TestEnableDisableTwoFactor(t *testing.T) {
	p := newPipeline(t)
	u := p.signup(t, "a@x.com", false)
	ctx := context.Background()

	err := p.svc.EnableTwoFactor(ctx, u.ID, "123456")
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	err = p.svc.DisableTwoFactor(ctx, u.ID, "123456")
	assert.ErrorIs(t, err, apperr.ErrIllegalState)
	assert.EqualError(t, err, "Two-factor authentication is already disabled")

	_, err = p.svc.TwoFactorProvisioning(ctx, u.ID, ProvisioningURI)
	require.NoError(t, err)
	secret := *p.store.get(u.ID).TwoFactorSecret

	require.NoError(t, p.svc.EnableTwoFactor(ctx, u.ID, codeAt(t, secret, p.clock.t)))
	assert.True(t, p.store.get(u.ID).TwoFactorEnabled)

	err = p.svc.EnableTwoFactor(ctx, u.ID, codeAt(t, secret, p.clock.t))
	assert.ErrorIs(t, err, apperr.ErrIllegalState)

	_, err = p.svc.TwoFactorProvisioning(ctx, u.ID, ProvisioningURI)
	assert.ErrorIs(t, err, apperr.ErrIllegalState)
	assert.Equal(t, secret, *p.store.get(u.ID).TwoFactorSecret)

	err = p.svc.DisableTwoFactor(ctx, u.ID, wrongCode(t, p, secret))
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	assert.True(t, p.store.get(u.ID).TwoFactorEnabled)

	require.NoError(t, p.svc.DisableTwoFactor(ctx, u.ID, codeAt(t, secret, p.clock.t)))
	stored := p.store.get(u.ID)
	assert.False(t, stored.TwoFactorEnabled)
	assert.Nil(t, stored.TwoFactorSecret)

	assert.ErrorIs(t, p.svc.EnableTwoFactor(ctx, 404, "123456"), apperr.ErrNotFound)
}

// wrongCode returns a six digit code outside the accepted window.
func wrongCode(t *testing.T, p *pipeline, secret string) string {
	t.Helper()
	valid := map[string]bool{}
	for _, d := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		valid[codeAt(t, secret, p.clock.t.Add(d))] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatal("no wrong code available")
	return ""
}

func kindOf(err error) error {
	if appErr, ok := apperr.As(err); ok {
		return appErr.Kind()
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
