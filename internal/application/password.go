package application

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const minPasswordLength = 8

var (
	ErrInvalidPasswordHash         = errors.New("invalid password hash format")
	ErrIncompatiblePasswordVersion = errors.New("incompatible password hash version")
)

type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultArgon2idParams = Argon2idParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// PasswordHasher turns a plain password into an encoded hash.
type PasswordHasher func(password string) (string, error)

// PasswordVerifier compares a stored hash with a candidate password.
type PasswordVerifier func(hashedPassword, password string) error

// NewArgon2idHasher returns a PasswordHasher using params.
func NewArgon2idHasher(params Argon2idParams) PasswordHasher {
	return func(password string) (string, error) {
		return CreatePasswordHash(password, params)
	}
}

// CreatePasswordHash encodes password as $argon2id$v=..$m=..,t=..,p=..$salt$key.
func CreatePasswordHash(password string, params Argon2idParams) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.Memory, params.Iterations, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

type decodedHash struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func decodePasswordHash(encoded string) (decodedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return decodedHash{}, ErrInvalidPasswordHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return decodedHash{}, ErrInvalidPasswordHash
	}
	if version != argon2.Version {
		return decodedHash{}, ErrIncompatiblePasswordVersion
	}

	var out decodedHash
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &out.params.Memory, &out.params.Iterations, &out.params.Parallelism); err != nil {
		return decodedHash{}, ErrInvalidPasswordHash
	}
	var err error
	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return decodedHash{}, ErrInvalidPasswordHash
	}
	if out.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return decodedHash{}, ErrInvalidPasswordHash
	}
	out.params.SaltLength = uint32(len(out.salt))
	out.params.KeyLength = uint32(len(out.key))
	return out, nil
}

// VerifyPassword returns nil when password matches the encoded hash and
// ErrInvalidCredentials when it does not.
func VerifyPassword(hashedPassword, password string) error {
	decoded, err := decodePasswordHash(hashedPassword)
	if err != nil {
		return err
	}
	p := decoded.params
	candidate := argon2.IDKey([]byte(password), decoded.salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	if subtle.ConstantTimeCompare(decoded.key, candidate) == 1 {
		return nil
	}
	return ErrInvalidCredentials
}

func validateNewPassword(password, confirm string) error {
	if len(password) < minPasswordLength {
		return invalidf("password", "a password must have at least %d characters", minPasswordLength)
	}
	if password != confirm {
		return invalid("passwordConfirm", "passwords are not the same")
	}
	return nil
}

// hashResetToken is the stored form of a password reset token.
func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
