/******************************************************************************
 *
 *  Description :
 *
 *    Account registry: password digests, role grants, one-time password
 *    generation. The registry lock is held per lookup/update only, never
 *    across anything blocking.
 *
 *****************************************************************************/

package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	t "github.com/slbsh/crussh/server/store/types"
)

// Generated one-time passwords: length and alphabet.
const (
	passwordLength   = 8
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// UserRegistry holds all known accounts.
type UserRegistry struct {
	mu    sync.Mutex
	users map[string]*t.UserRec
}

func newUserRegistry(users map[string]t.UserRec) *UserRegistry {
	reg := &UserRegistry{users: make(map[string]*t.UserRec, len(users))}
	for name, rec := range users {
		cp := rec
		reg.users[normalizeUname(name)] = &cp
	}
	return reg
}

// normalizeUname brings an account name to canonical form: NFC normalized
// and lowercased. Applied at authentication, creation and reply lookup.
func normalizeUname(uname string) string {
	return strings.ToLower(norm.NFC.String(uname))
}

// digest is the placeholder one-way function of the password bytes. It is
// deliberately deterministic: stored digests must compare equal across
// restarts and adapters.
func digest(pass []byte) string {
	sum := sha256.Sum256(pass)
	return hex.EncodeToString(sum[:])
}

// genPassword produces a one-time alphanumeric password.
func genPassword() (string, error) {
	buf := make([]byte, passwordLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = passwordAlphabet[int(b)%len(passwordAlphabet)]
	}
	return string(buf), nil
}

// Authenticate checks a password against the stored digest.
func (reg *UserRegistry) Authenticate(uname, pass string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rec, ok := reg.users[normalizeUname(uname)]
	return ok && rec.Digest == digest([]byte(pass))
}

// Exists checks for an account by name.
func (reg *UserRegistry) Exists(uname string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	_, ok := reg.users[normalizeUname(uname)]
	return ok
}

// Add creates an account with a generated one-time password and returns the
// password. types.ErrDuplicate if the name is taken.
func (reg *UserRegistry) Add(uname string) (string, error) {
	pass, err := genPassword()
	if err != nil {
		return "", err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	uname = normalizeUname(uname)
	if _, ok := reg.users[uname]; ok {
		return "", t.ErrDuplicate
	}
	reg.users[uname] = &t.UserRec{Digest: digest([]byte(pass))}
	return pass, nil
}

// ResetPassword overwrites an existing account's digest with that of a
// fresh one-time password and returns the password.
func (reg *UserRegistry) ResetPassword(uname string) (string, error) {
	pass, err := genPassword()
	if err != nil {
		return "", err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	rec, ok := reg.users[normalizeUname(uname)]
	if !ok {
		return "", t.ErrNotFound
	}
	rec.Digest = digest([]byte(pass))
	return pass, nil
}

// SetPassword sets an account's password to a caller-chosen value.
func (reg *UserRegistry) SetPassword(uname, pass string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rec, ok := reg.users[normalizeUname(uname)]
	if !ok {
		return t.ErrNotFound
	}
	rec.Digest = digest([]byte(pass))
	return nil
}

// Roles returns a copy of the account's role grants. Nil for an unknown
// account.
func (reg *UserRegistry) Roles(uname string) map[string]t.PermLevel {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rec, ok := reg.users[normalizeUname(uname)]
	if !ok {
		return nil
	}
	roles := make(map[string]t.PermLevel, len(rec.Roles))
	for name, lvl := range rec.Roles {
		roles[name] = lvl
	}
	return roles
}

// GlobalPerm is the account-wide effective level: the OR of all role
// grants.
func (reg *UserRegistry) GlobalPerm(uname string) t.PermLevel {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rec, ok := reg.users[normalizeUname(uname)]
	if !ok {
		return t.PermNone
	}
	return t.GlobalPerm(rec.Roles)
}

// snapshot copies the registry for persistence.
func (reg *UserRegistry) snapshot() map[string]t.UserRec {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	out := make(map[string]t.UserRec, len(reg.users))
	for name, rec := range reg.users {
		cp := *rec
		if rec.Roles != nil {
			cp.Roles = make(map[string]t.PermLevel, len(rec.Roles))
			for rname, lvl := range rec.Roles {
				cp.Roles[rname] = lvl
			}
		}
		out[name] = cp
	}
	return out
}
