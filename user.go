package siridb

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// saltSize is the per-user random salt length in bytes (half of the
// 32-byte SHA-256 output); there is no
// bespoke-scheme equivalent to port (the reference `owcrypt` source was
// filtered from the kept corpus), so a standard per-user random salt
// plus SHA-256 is used instead — see DESIGN.md.
const saltSize = 16

// User is a per-database account with an access-bit mask (C16).
type User struct {
	Name       string
	Access     AccessBits
	salt       [saltSize]byte
	hashedPass []byte
}

// NewUser creates a user with password hashed under a fresh random
// salt.
func NewUser(name, password string, access AccessBits) (*User, error) {
	u := &User{Name: name, Access: access}
	if _, err := rand.Read(u.salt[:]); err != nil {
		return nil, err
	}
	u.hashedPass = hashPassword(u.salt, password)
	return u, nil
}

func hashPassword(salt [saltSize]byte, password string) []byte {
	h := sha256.New()
	h.Write(salt[:])
	h.Write([]byte(password))
	return h.Sum(nil)
}

// SetPassword rehashes password under a freshly generated salt.
func (u *User) SetPassword(password string) error {
	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return err
	}
	u.salt = salt
	u.hashedPass = hashPassword(salt, password)
	return nil
}

// CheckPassword reports whether password matches the stored hash,
// using a constant-time comparison to avoid timing side channels.
func (u *User) CheckPassword(password string) bool {
	got := hashPassword(u.salt, password)
	return subtle.ConstantTimeCompare(got, u.hashedPass) == 1
}

// SaltHex and HashHex expose the stored salt/hash for on-disk
// persistence (users.dat, spec §6.4).
func (u *User) SaltHex() string { return hex.EncodeToString(u.salt[:]) }
func (u *User) HashHex() string { return hex.EncodeToString(u.hashedPass) }

// UserTable holds every user registered on a database and authenticates
// client connections against it.
type UserTable struct {
	byName map[string]*User
}

// NewUserTable returns an empty table.
func NewUserTable() *UserTable {
	return &UserTable{byName: make(map[string]*User)}
}

// Add registers u, replacing any existing user of the same name.
func (t *UserTable) Add(u *User) { t.byName[u.Name] = u }

// Get looks up a user by name.
func (t *UserTable) Get(name string) (*User, bool) {
	u, ok := t.byName[name]
	return u, ok
}

// Drop removes a user by name.
func (t *UserTable) Drop(name string) { delete(t.byName, name) }

// Authenticate verifies name/password and returns the matching user, or
// ErrInvalidCredentials (spec §4.16: "Authentication verifies
// {user, password, dbname} against a salted-hash table").
func (t *UserTable) Authenticate(name, password string) (*User, error) {
	u, ok := t.byName[name]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !u.CheckPassword(password) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}
