package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

var ErrNoPrivateKey = errors.New("signature: keyring has no private key")

// Signer signs and verifies license payloads.
type Signer interface {
	Sign(p Payload) (string, error)
	Verify(p Payload, signature string) bool
}

// Keyring holds the RSA keypair used for license signatures and activation
// credentials. A keyring built from a public key only can verify but not sign.
type Keyring struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	keyID   string
}

func NewKeyring(private *rsa.PrivateKey) (*Keyring, error) {
	if private == nil {
		return nil, ErrNoPrivateKey
	}
	return newKeyring(private, &private.PublicKey)
}

func NewVerifier(public *rsa.PublicKey) (*Keyring, error) {
	if public == nil {
		return nil, errors.New("signature: nil public key")
	}
	return newKeyring(nil, public)
}

func newKeyring(private *rsa.PrivateKey, public *rsa.PublicKey) (*Keyring, error) {
	der, err := x509.MarshalPKIXPublicKey(public)
	if err != nil {
		return nil, fmt.Errorf("signature: marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)

	return &Keyring{
		private: private,
		public:  public,
		keyID:   hex.EncodeToString(sum[:8]),
	}, nil
}

// KeyID identifies the public key; it is safe to log.
func (k *Keyring) KeyID() string {
	return k.keyID
}

func (k *Keyring) PrivateKey() *rsa.PrivateKey {
	return k.private
}

func (k *Keyring) PublicKey() *rsa.PublicKey {
	return k.public
}

// Sign produces a hex RSA PKCS#1 v1.5 signature over SHA-256 of the canonical payload.
func (k *Keyring) Sign(p Payload) (string, error) {
	if k.private == nil {
		return "", ErrNoPrivateKey
	}

	msg, err := p.Canonical()
	if err != nil {
		return "", fmt.Errorf("signature: canonical payload: %w", err)
	}

	digest := sha256.Sum256(msg)
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.private, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signature: sign: %w", err)
	}

	return hex.EncodeToString(sig), nil
}

// Verify never errors: malformed or mismatching signatures return false.
func (k *Keyring) Verify(p Payload, signature string) bool {
	if k == nil || k.public == nil || signature == "" {
		return false
	}

	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	msg, err := p.Canonical()
	if err != nil {
		return false
	}

	digest := sha256.Sum256(msg)
	return rsa.VerifyPKCS1v15(k.public, crypto.SHA256, digest[:], sig) == nil
}

func GenerateKey(bits int) (*rsa.PrivateKey, error) {
	if bits < 2048 {
		bits = 2048
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

// ParsePrivateKeyPEM accepts PKCS#1 ("RSA PRIVATE KEY") and PKCS#8 ("PRIVATE KEY") blocks.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("signature: no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("signature: PKCS#8 key is not RSA")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("signature: unsupported PEM block %q", block.Type)
	}
}

func EncodePrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func EncodePublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
