package controlplane

import (
	"errors"
	"fmt"
	"strings"

	"github.com/WoushouW/woushBOT/pkg/crypto"
	"github.com/WoushouW/woushBOT/pkg/model"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Caller is an authenticated control-plane client. ModeratorID is the
// platform id recorded as the actor of moderation actions.
type Caller struct {
	Role        model.Role
	ModeratorID string
}

// Authenticator checks operator PINs. Only digests are kept.
type Authenticator struct {
	admin       crypto.PINHash
	roomManager crypto.PINHash
}

// NewAuthenticator hashes the two operator PINs. An empty PIN disables
// that role.
func NewAuthenticator(adminPIN, roomManagerPIN string) (*Authenticator, error) {
	if adminPIN != "" && adminPIN == roomManagerPIN {
		return nil, errors.New("controlplane: admin and room manager pins must differ")
	}
	a := &Authenticator{}
	var err error
	if adminPIN != "" {
		if a.admin, err = crypto.HashPIN(adminPIN); err != nil {
			return nil, fmt.Errorf("controlplane: admin pin: %w", err)
		}
	}
	if roomManagerPIN != "" {
		if a.roomManager, err = crypto.HashPIN(roomManagerPIN); err != nil {
			return nil, fmt.Errorf("controlplane: room manager pin: %w", err)
		}
	}
	return a, nil
}

// Authenticate maps a PIN to a Caller. Both digests are always checked so
// the time taken does not reveal which role matched.
func (a *Authenticator) Authenticate(pin, moderatorID string) (Caller, error) {
	pin = strings.TrimSpace(pin)
	isAdmin := a.admin.Verify(pin)
	isManager := a.roomManager.Verify(pin)
	switch {
	case isAdmin:
		return Caller{Role: model.RoleAdmin, ModeratorID: moderatorID}, nil
	case isManager:
		return Caller{Role: model.RoleRoomManager, ModeratorID: moderatorID}, nil
	default:
		return Caller{}, ErrUnauthenticated
	}
}
