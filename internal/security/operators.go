package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned for an unknown operator or wrong password.
// The two cases are deliberately indistinguishable.
var ErrBadCredentials = errors.New("security: invalid operator credentials")

// Operator is one configured admin API user.
type Operator struct {
	ID           string `json:"id"`
	PasswordHash string `json:"passwordHash"`
	Role         string `json:"role"`
}

// Authenticator checks operator credentials against the configured set.
type Authenticator struct {
	operators map[string]Operator
}

// NewAuthenticator indexes the configured operators by ID. Operators with an
// unknown role are downgraded to readonly.
func NewAuthenticator(operators []Operator) *Authenticator {
	byID := make(map[string]Operator, len(operators))
	for _, op := range operators {
		switch op.Role {
		case RoleAdmin, RoleReviewer, RoleReadonly:
		default:
			op.Role = RoleReadonly
		}
		byID[op.ID] = op
	}
	return &Authenticator{operators: byID}
}

// Authenticate verifies an operator's password and returns their record.
func (a *Authenticator) Authenticate(operatorID, password string) (*Operator, error) {
	op, ok := a.operators[operatorID]
	if !ok {
		// Burn a comparison anyway so unknown IDs take as long as wrong
		// passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	return &op, nil
}

// HashPassword produces a bcrypt hash for operator provisioning.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
