package users

import (
	"bytes"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PasswordEncryptor turns clear text passwords into their stored form.
type PasswordEncryptor interface {
	Encrypt(password string) (string, error)
	// Matches reports whether password encrypts to stored
	Matches(password, stored string) bool
}

// EncryptorByName resolves a configured encryptor name.
func EncryptorByName(name string) (PasswordEncryptor, error) {
	switch strings.ToLower(name) {
	case "", "md5":
		return MD5PasswordEncryptor{}, nil
	case "clear", "cleartext", "plain":
		return ClearTextPasswordEncryptor{}, nil
	case "salted", "ssha512":
		return SaltedPasswordEncryptor{}, nil
	case "bcrypt":
		return BcryptPasswordEncryptor{}, nil
	}
	return nil, fmt.Errorf("unknown password encryptor %q", name)
}

// MD5PasswordEncryptor stores the hex encoded MD5 of the password.
// It is unsalted and kept as the default for compatibility with existing user files.
type MD5PasswordEncryptor struct{}

func (MD5PasswordEncryptor) Encrypt(password string) (string, error) {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:]), nil
}

func (e MD5PasswordEncryptor) Matches(password, stored string) bool {
	encrypted, _ := e.Encrypt(password)
	return subtle.ConstantTimeCompare([]byte(encrypted), []byte(strings.ToLower(stored))) == 1
}

// ClearTextPasswordEncryptor stores the password as is.
type ClearTextPasswordEncryptor struct{}

func (ClearTextPasswordEncryptor) Encrypt(password string) (string, error) {
	return password, nil
}

func (ClearTextPasswordEncryptor) Matches(password, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
}

const (
	ssha512Prefix    = "{SSHA512}"
	sha512HashLength = 64
	saltLength       = 8
)

// SaltedPasswordEncryptor stores {SSHA512}base64(sha512(password+salt)+salt).
type SaltedPasswordEncryptor struct{}

func (SaltedPasswordEncryptor) Encrypt(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("error generating random salt: %w", err)
	}
	return ssha512Prefix + base64.StdEncoding.EncodeToString(saltedHash(password, salt)), nil
}

func (SaltedPasswordEncryptor) Matches(password, stored string) bool {
	if !strings.HasPrefix(stored, ssha512Prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, ssha512Prefix))
	if err != nil || len(decoded) <= sha512HashLength {
		return false
	}
	salt := decoded[sha512HashLength:]
	return subtle.ConstantTimeCompare(saltedHash(password, salt), decoded) == 1
}

// saltedHash returns the hash followed by the salt
func saltedHash(password string, salt []byte) []byte {
	h := sha512.New()
	h.Write([]byte(password))
	h.Write(salt)
	var buf bytes.Buffer
	buf.Write(h.Sum(nil))
	buf.Write(salt)
	return buf.Bytes()
}

// BcryptPasswordEncryptor stores a bcrypt hash, Cost 0 is bcrypt.DefaultCost.
type BcryptPasswordEncryptor struct {
	Cost int
}

func (e BcryptPasswordEncryptor) Encrypt(password string) (string, error) {
	cost := e.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	return string(hash), nil
}

func (BcryptPasswordEncryptor) Matches(password, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}
