// Package keys generates the host keys of the SFTP server in PEM format.
package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// GeneratesRSAKeys generates a new RSA key pair and returns the private and public keys in PEM format.
func GeneratesRSAKeys(bitSize int) (privateKeyFile, publicKeyFile []byte, err error) {
	switch bitSize {
	case 2048, 3072, 4096:
	default:
		return nil, nil, fmt.Errorf("invalid RSA bit size: %d", bitSize)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		return nil, nil, fmt.Errorf("error generating RSA private key: %w", err)
	}
	privateKeyFile = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	publicKeyFile, err = publicPEM(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling RSA public key: %w", err)
	}
	return privateKeyFile, publicKeyFile, nil
}

// GeneratesECDSAKeys generates a new ECDSA key pair on the NIST curve of bitSize.
func GeneratesECDSAKeys(bitSize int) (privateKeyFile, publicKeyFile []byte, err error) {
	var curve elliptic.Curve
	switch bitSize {
	case 224:
		curve = elliptic.P224()
	case 256:
		curve = elliptic.P256()
	case 384:
		curve = elliptic.P384()
	case 521:
		curve = elliptic.P521()
	default:
		return nil, nil, fmt.Errorf("invalid ECDSA bit size: %d", bitSize)
	}

	privateKey, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("error generating ECDSA private key: %w", err)
	}
	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling ECDSA private key: %w", err)
	}
	privateKeyFile = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privateKeyBytes})

	publicKeyFile, err = publicPEM(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling ECDSA public key: %w", err)
	}
	return privateKeyFile, publicKeyFile, nil
}

// GeneratesED25519Keys generates a new Ed25519 key pair.
func GeneratesED25519Keys() (privateKeyFile, publicKeyFile []byte, err error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("error generating Ed25519 private key: %w", err)
	}
	privateKeyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling Ed25519 private key: %w", err)
	}
	privateKeyFile = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateKeyBytes})

	publicKeyFile, err = publicPEM(publicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling Ed25519 public key: %w", err)
	}
	return privateKeyFile, publicKeyFile, nil
}

func publicPEM(pub any) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// LoadOrGenerateRSA reads the private key at path. When the file does not exist
// a 2048 bit RSA key is generated and written there, readable by the owner only.
// An empty path always generates a key that is not stored.
func LoadOrGenerateRSA(path string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading private key file: %w", err)
		}
	}

	privateKey, _, err := GeneratesRSAKeys(2048)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return privateKey, nil
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("error creating private key directory: %w", err)
	}
	if err = os.WriteFile(path, privateKey, 0o600); err != nil {
		return nil, fmt.Errorf("error writing private key file: %w", err)
	}
	return privateKey, nil
}
