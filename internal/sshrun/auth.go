package sshrun

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// Auth yields the signer presented to a host for a given login user.
type Auth interface {
	Signer(user string) (ssh.Signer, error)
}

// StaticKey authenticates with one long-lived private key, typically the key
// registered with the cloud provider at provisioning time.
type StaticKey struct {
	signer ssh.Signer
}

// LoadStaticKey reads a PEM private key from path.
func LoadStaticKey(path string) (*StaticKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", path, err)
	}
	return &StaticKey{signer: signer}, nil
}

func (k *StaticKey) Signer(string) (ssh.Signer, error) {
	return k.signer, nil
}

// CertAuthority signs a fresh short-lived user certificate for every
// connection. Hosts trust the CA through TrustedUserCAKeys in cloud-init.
type CertAuthority struct {
	signer ssh.Signer
	ttl    time.Duration
}

// NewCertAuthority parses a PEM CA key. ttl bounds each issued certificate.
func NewCertAuthority(pemBytes []byte, ttl time.Duration) (*CertAuthority, error) {
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh ca key: %w", err)
	}
	return &CertAuthority{signer: signer, ttl: ttl}, nil
}

// LoadCertAuthority reads the CA key from path.
func LoadCertAuthority(path string, ttl time.Duration) (*CertAuthority, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ssh ca key %s: %w", path, err)
	}
	return NewCertAuthority(pemBytes, ttl)
}

// PublicKey returns the CA public key in authorized_keys format, for
// embedding into cloud-init.
func (ca *CertAuthority) PublicKey() string {
	return string(ssh.MarshalAuthorizedKey(ca.signer.PublicKey()))
}

func (ca *CertAuthority) Signer(user string) (ssh.Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("wrap ephemeral key: %w", err)
	}

	now := time.Now()
	cert := &ssh.Certificate{
		CertType:        ssh.UserCert,
		Key:             sshPub,
		KeyId:           "botplane-" + user,
		ValidPrincipals: []string{user},
		// Allow for clock drift between control plane and host.
		ValidAfter:  uint64(now.Add(-time.Minute).Unix()),
		ValidBefore: uint64(now.Add(ca.ttl).Unix()),
	}
	if err := cert.SignCert(rand.Reader, ca.signer); err != nil {
		return nil, fmt.Errorf("sign user certificate: %w", err)
	}

	ephemeral, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("ephemeral signer: %w", err)
	}
	return ssh.NewCertSigner(cert, ephemeral)
}
