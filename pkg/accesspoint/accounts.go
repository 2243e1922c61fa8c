// ABOUTME: Account directory with bcrypt passwords and static tokens
// ABOUTME: Account flags map to the remote policy login errors
package accesspoint

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/Thalhammer/libspotify-embedded/pkg/errcode"
)

// Account types
const (
	Premium = "premium"
	Free    = "free"
)

// Account is a user known to the access point.
type Account struct {
	Username         string
	PasswordHash     []byte
	Type             string
	Banned           bool
	TravelRestricted bool
}

// policy returns the login outcome dictated by the account flags.
func (a *Account) policy() errcode.Code {
	switch {
	case a.Banned:
		return errcode.ApplicationBanned
	case a.TravelRestricted:
		return errcode.TravelRestriction
	case a.Type != Premium:
		return errcode.NeedsPremium
	default:
		return errcode.OK
	}
}

// Directory stores accounts keyed by lower-cased username.
type Directory struct {
	// Cost is the bcrypt cost used by Add.
	Cost int

	mu       sync.RWMutex
	accounts map[string]*Account
	tokens   map[string]string
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		Cost:     bcrypt.DefaultCost,
		accounts: make(map[string]*Account),
		tokens:   make(map[string]string),
	}
}

// Add hashes password and stores the account.
func (d *Directory) Add(username, password, accountType string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.Cost)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", username, err)
	}
	return d.Put(Account{Username: username, PasswordHash: hash, Type: accountType})
}

// Put stores a fully specified account, replacing any existing one.
func (d *Directory) Put(a Account) error {
	if a.Username == "" {
		return fmt.Errorf("account without username")
	}
	if a.Type == "" {
		a.Type = Premium
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[strings.ToLower(a.Username)] = &a
	return nil
}

// Update applies fn to the stored account.
func (d *Directory) Update(username string, fn func(*Account)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[strings.ToLower(username)]
	if ok {
		fn(a)
	}
	return ok
}

// AddToken registers a bearer token for username.
func (d *Directory) AddToken(token, username string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[strings.ToLower(username)]; !ok {
		return fmt.Errorf("token for unknown account %s", username)
	}
	d.tokens[token] = strings.ToLower(username)
	return nil
}

// Lookup returns a copy of the account for username.
func (d *Directory) Lookup(username string) (Account, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[strings.ToLower(username)]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// CheckPassword authenticates a password login.
func (d *Directory) CheckPassword(username, password string) (Account, errcode.Code) {
	a, ok := d.Lookup(username)
	if !ok {
		// keep timing similar for unknown users
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return Account{}, errcode.BadCredentials
	}
	if bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(password)) != nil {
		return Account{}, errcode.BadCredentials
	}
	return a, a.policy()
}

// CheckToken authenticates a bearer token login.
func (d *Directory) CheckToken(token string) (Account, errcode.Code) {
	d.mu.RLock()
	name, ok := d.tokens[token]
	d.mu.RUnlock()
	if !ok {
		return Account{}, errcode.BadCredentials
	}
	return d.CheckUser(name)
}

// CheckUser applies account policy to an already authenticated user.
func (d *Directory) CheckUser(username string) (Account, errcode.Code) {
	a, ok := d.Lookup(username)
	if !ok {
		return Account{}, errcode.BadCredentials
	}
	return a, a.policy()
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("unused"), bcrypt.MinCost)
