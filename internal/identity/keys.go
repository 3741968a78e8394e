package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// did:key identifiers carry a multicodec prefix (0xed 0x01 for ed25519
// public keys) followed by the key bytes, base58btc encoded with the
// multibase 'z' prefix.
var ed25519Prefix = []byte{0xed, 0x01}

var (
	ErrInvalidDIDKey = errors.New("invalid did:key identifier")
	ErrMalformedKey  = errors.New("malformed public key")
)

// Signer signs ledger payloads and names its public key in did:key form.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	DIDKey() string
}

// Keypair is an ed25519 signing keypair reserved for a single DID.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return &Keypair{Public: pub, Private: priv}, nil
}

func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes", ErrMalformedKey, ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{
		Public:  priv.Public().(ed25519.PublicKey),
		Private: priv,
	}, nil
}

func KeypairFromPrivateKey(priv []byte) (*Keypair, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes", ErrMalformedKey, ed25519.PrivateKeySize)
	}
	key := ed25519.PrivateKey(priv)
	return &Keypair{
		Public:  key.Public().(ed25519.PublicKey),
		Private: key,
	}, nil
}

func (k *Keypair) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(k.Private, msg), nil
}

func (k *Keypair) DIDKey() string {
	return EncodeDIDKey(k.Public)
}

func EncodeDIDKey(pub ed25519.PublicKey) string {
	raw := make([]byte, 0, len(ed25519Prefix)+len(pub))
	raw = append(raw, ed25519Prefix...)
	raw = append(raw, pub...)
	return "did:key:z" + base58.Encode(raw)
}

func DecodeDIDKey(didKey string) (ed25519.PublicKey, error) {
	encoded, ok := strings.CutPrefix(didKey, "did:key:z")
	if !ok {
		return nil, ErrInvalidDIDKey
	}

	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDIDKey, err)
	}

	if len(raw) != len(ed25519Prefix)+ed25519.PublicKeySize ||
		raw[0] != ed25519Prefix[0] || raw[1] != ed25519Prefix[1] {
		return nil, ErrInvalidDIDKey
	}

	return ed25519.PublicKey(raw[2:]), nil
}

// VerifyDIDKeySignature reports whether sig is a valid signature of msg by
// the key named by didKey.
func VerifyDIDKeySignature(didKey string, msg, sig []byte) bool {
	pub, err := DecodeDIDKey(didKey)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
