package crypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/4throck/deskrelay/internal/device"
	"golang.org/x/crypto/hkdf"
)

// DeriveMachineKey derives a 32-byte encryption key from this device's
// fingerprint alone, with no bearer token as input. Used where there is no
// token to fold in — e.g. the host agent's local preference file, which is
// machine-locked but not tied to any session credential.
func DeriveMachineKey(salt string) ([]byte, error) {
	hkdfReader := hkdf.New(sha256.New, []byte(device.MachineID()), []byte(salt), []byte("deskrelay-prefs-v1"))

	key := make([]byte, 32)
	if _, err := hkdfReader.Read(key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return key, nil
}
