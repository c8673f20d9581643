// Package prefs persists the host agent's last-used FPS and quality across
// runs, in a small machine-locked encrypted file (SPEC_FULL.md §4.6). This is
// pure convenience: a missing file or a decryption failure (e.g. the file was
// copied to a different machine) falls back silently to CLI-flag defaults.
// No session code, token, or session content is ever stored here.
package prefs

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/4throck/deskrelay/internal/crypto"
)

// fileHeader identifies the encrypted preferences format on disk.
const fileHeader = "DESKRELAYPREFS1\n"

// prefsSalt is a fixed HKDF salt distinguishing this key from any other
// machine-locked secret derived on the host.
const prefsSalt = "host-prefs"

// Prefs is the set of host-agent preferences persisted across runs.
type Prefs struct {
	FPS     int `json:"fps"`
	Quality int `json:"quality"`
}

// Load reads and decrypts the preferences file at path. A missing file, or
// any decryption/parse failure, returns the zero Prefs and no error — callers
// fall back to their own defaults in that case.
func Load(path string) (Prefs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Prefs{}, nil
		}
		return Prefs{}, nil
	}
	if !bytes.HasPrefix(data, []byte(fileHeader)) {
		return Prefs{}, nil
	}

	encoded := strings.TrimSpace(string(data[len(fileHeader):]))
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Prefs{}, nil
	}

	key, err := crypto.DeriveMachineKey(prefsSalt)
	if err != nil {
		return Prefs{}, nil
	}

	plaintext, err := crypto.DecryptBytes(key, ciphertext)
	if err != nil {
		// Most likely copied from a different machine — fall back silently.
		return Prefs{}, nil
	}

	var p Prefs
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return Prefs{}, nil
	}
	return p, nil
}

// Save encrypts and writes p to path as an opaque machine-locked blob.
func Save(path string, p Prefs) error {
	plaintext, err := json.Marshal(p)
	if err != nil {
		return err
	}

	key, err := crypto.DeriveMachineKey(prefsSalt)
	if err != nil {
		return fmt.Errorf("cannot derive key: %w", err)
	}

	ciphertext, err := crypto.EncryptBytes(key, plaintext)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	buf.WriteString(base64.StdEncoding.EncodeToString(ciphertext))
	buf.WriteByte('\n')

	return os.WriteFile(path, buf.Bytes(), 0600)
}
