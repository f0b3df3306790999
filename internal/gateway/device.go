package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	deviceAssertionAudience = "openclaw-gateway"
	deviceAssertionTTL      = time.Minute
)

// DeviceIdentity is the key pair the gateway uses to recognize this host.
type DeviceIdentity struct {
	DeviceID      string `json:"deviceId"`
	PublicKeyPEM  string `json:"publicKeyPem"`
	PrivateKeyPEM string `json:"privateKeyPem"`
}

// DeviceClaims are the claims of a device assertion.
type DeviceClaims struct {
	Nonce string `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// LoadDeviceIdentity reads a device.json file. A missing file yields
// (nil, nil); a malformed or incomplete one yields an error.
func LoadDeviceIdentity(path string) (*DeviceIdentity, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var id DeviceIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parse device identity: %w", err)
	}
	if id.DeviceID == "" || id.PrivateKeyPEM == "" {
		return nil, fmt.Errorf("device identity %s is incomplete", path)
	}
	return &id, nil
}

// Assertion signs an EdDSA JWT proving possession of the device key. The
// nonce from the gateway's challenge, if any, is bound into the claims.
func (d *DeviceIdentity) Assertion(nonce string, now time.Time) (string, error) {
	key, err := jwt.ParseEdPrivateKeyFromPEM([]byte(d.PrivateKeyPEM))
	if err != nil {
		return "", fmt.Errorf("device private key: %w", err)
	}
	claims := DeviceClaims{
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   d.DeviceID,
			Audience:  jwt.ClaimStrings{deviceAssertionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(deviceAssertionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
}

func (d *DeviceIdentity) payload(nonce string) (*devicePayload, error) {
	assertion, err := d.Assertion(nonce, time.Now())
	if err != nil {
		return nil, err
	}
	return &devicePayload{
		ID:        d.DeviceID,
		PublicKey: d.PublicKeyPEM,
		Assertion: assertion,
		Nonce:     nonce,
	}, nil
}
