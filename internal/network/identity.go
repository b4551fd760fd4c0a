package network

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	crypto "github.com/libp2p/go-libp2p/core/crypto"
	peer "github.com/libp2p/go-libp2p/core/peer"
)

// PersistentIdentity holds the private key and peer ID.
type PersistentIdentity struct {
	PrivKey []byte `json:"priv_key"`
	PeerID  string `json:"peer_id"`
}

// SaveIdentity saves identity to disk.
func SaveIdentity(path string, id *PersistentIdentity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadIdentity loads identity from disk.
func LoadIdentity(path string) (*PersistentIdentity, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var id PersistentIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// LoadOrCreateIdentity returns the key stored at path, generating and
// saving an Ed25519 key on first use. An empty path yields a fresh key
// that is not persisted.
func LoadOrCreateIdentity(path string) (crypto.PrivKey, peer.ID, error) {
	if path != "" {
		id, err := LoadIdentity(path)
		if err == nil {
			priv, err := crypto.UnmarshalPrivateKey(id.PrivKey)
			if err != nil {
				return nil, "", err
			}
			pid, err := peer.Decode(id.PeerID)
			if err != nil {
				return nil, "", err
			}
			return priv, pid, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, "", err
	}
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return priv, pid, nil
	}

	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, "", err
	}
	if err := SaveIdentity(path, &PersistentIdentity{PrivKey: privBytes, PeerID: pid.String()}); err != nil {
		return nil, "", err
	}
	return priv, pid, nil
}
