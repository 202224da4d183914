// Package common provides shared helpers for the standalone CLI binaries
// under cmd/: signing/exchange key loading and roster file parsing.
package common

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/nblp/dcnet/crypto"
	"github.com/nblp/dcnet/group"
)

// LoadOrGenerateSigningKey loads an Ed25519 private key from a hex string,
// or generates a fresh key pair if hexKey is empty.
func LoadOrGenerateSigningKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("common: invalid signing key hex: %w", err)
		}
		return crypto.NewPrivateKeyFromBytes(keyBytes), nil
	}
	_, priv, err := crypto.GenerateKeyPair()
	return priv, err
}

// LoadOrGenerateDHKey loads an X25519 private scalar from a hex string, or
// generates a fresh key pair if hexKey is empty.
func LoadOrGenerateDHKey(hexKey string) (crypto.DHPublicKey, crypto.DHPrivateKey, error) {
	if hexKey != "" {
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return crypto.DHPublicKey{}, crypto.DHPrivateKey{}, fmt.Errorf("common: invalid dh key hex: %w", err)
		}
		if len(raw) != 32 {
			return crypto.DHPublicKey{}, crypto.DHPrivateKey{}, fmt.Errorf("common: dh key must be 32 bytes, got %d", len(raw))
		}
		var priv crypto.DHPrivateKey
		copy(priv[:], raw)
		return crypto.DHPublicKeyFromPrivate(priv), priv, nil
	}
	return crypto.GenerateDHKeyPair()
}

// RosterEntry is one line of a roster file: a member's identity, signing
// key, DH key, and the HTTP address other nodes reach it at.
type RosterEntry struct {
	ID      group.ID `json:"id"`
	Key     string   `json:"key"`      // hex Ed25519 public key
	DH      string   `json:"dh"`       // hex X25519 public key
	Address string   `json:"address"`  // base URL, e.g. http://10.0.0.2:8090
	Leader  bool     `json:"leader"`
}

// LoadRoster parses a JSON array of RosterEntry from path.
func LoadRoster(path string) ([]RosterEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("common: reading roster file: %w", err)
	}
	var entries []RosterEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("common: parsing roster file: %w", err)
	}
	return entries, nil
}

// ToMembers converts roster entries into group.Member values and the
// leader id, if any entry is marked leader.
func ToMembers(entries []RosterEntry) ([]group.Member, group.ID, error) {
	members := make([]group.Member, 0, len(entries))
	leader := group.ZeroID
	for _, e := range entries {
		pub, err := crypto.NewPublicKeyFromString(e.Key)
		if err != nil {
			return nil, group.ZeroID, fmt.Errorf("common: member %s: invalid signing key: %w", e.ID, err)
		}
		dhBytes, err := hex.DecodeString(e.DH)
		if err != nil {
			return nil, group.ZeroID, fmt.Errorf("common: member %s: invalid dh key hex: %w", e.ID, err)
		}
		dh, err := crypto.DHPublicKeyFromBytes(dhBytes)
		if err != nil {
			return nil, group.ZeroID, fmt.Errorf("common: member %s: %w", e.ID, err)
		}
		members = append(members, group.Member{ID: e.ID, Key: pub, DH: dh})
		if e.Leader {
			leader = e.ID
		}
	}
	return members, leader, nil
}
