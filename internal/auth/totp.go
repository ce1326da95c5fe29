package auth

import (
	"bytes"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpDigits     = 6
	totpPeriod     = 30
	totpSkew       = 1
	totpSecretSize = 20
	qrImageSize    = 200
)

type TOTPVerifier interface {
	GenerateSecret() (string, error)
	ProvisioningURI(secret, account string) (string, error)
	QRCodeDataURL(secret, account string) (string, error)
	Verify(secret, code string) bool
}

// TOTPService implements RFC 6238 codes: SHA1, 6 digits, 30 second steps,
// one step of drift tolerated in either direction. Codes are not tracked,
// so a code can be replayed within its own window.
type TOTPService struct {
	Issuer string
	Now    func() time.Time
}

func NewTOTPService(issuer string) *TOTPService {
	return &TOTPService{Issuer: issuer, Now: time.Now}
}

func (t *TOTPService) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *TOTPService) opts(account string, secret []byte) totp.GenerateOpts {
	return totp.GenerateOpts{
		Issuer:      t.Issuer,
		AccountName: account,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Secret:      secret,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	}
}

// GenerateSecret returns a fresh base32 secret without padding.
func (t *TOTPService) GenerateSecret() (string, error) {
	key, err := totp.Generate(t.opts("enrollment", nil))
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

func (t *TOTPService) key(secret, account string) (*otp.Key, error) {
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	if err != nil {
		return nil, fmt.Errorf("decode totp secret: %w", err)
	}
	return totp.Generate(t.opts(account, raw))
}

// ProvisioningURI builds the otpauth:// URI authenticator apps enroll from.
func (t *TOTPService) ProvisioningURI(secret, account string) (string, error) {
	key, err := t.key(secret, account)
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

// QRCodeDataURL renders the provisioning URI as a PNG data URL.
func (t *TOTPService) QRCodeDataURL(secret, account string) (string, error) {
	key, err := t.key(secret, account)
	if err != nil {
		return "", err
	}
	img, err := key.Image(qrImageSize, qrImageSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (t *TOTPService) Verify(secret, code string) bool {
	if len(code) != totpDigits || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
