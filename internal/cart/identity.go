package cart

import (
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
)

// Kind distinguishes durable user carts from session-scoped guest carts.
type Kind string

const (
	KindUser  Kind = "user"
	KindGuest Kind = "guest"
)

// Identity owns exactly one cart.
type Identity struct {
	Kind Kind
	ID   uuid.UUID
}

// UserIdentity returns the cart identity of an authenticated user.
func UserIdentity(userID uuid.UUID) Identity {
	return Identity{Kind: KindUser, ID: userID}
}

// GuestIdentity returns the cart identity of a guest session.
func GuestIdentity(sessionID uuid.UUID) Identity {
	return Identity{Kind: KindGuest, ID: sessionID}
}

// ParseIdentity parses "user:<uuid>" or "guest:<uuid>".
func ParseIdentity(raw string) (Identity, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Identity{}, pkgerrors.New(pkgerrors.CodeValidation, "identity must be user:<id> or guest:<id>")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Identity{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "identity id must be a uuid")
	}
	identity := Identity{Kind: Kind(kind), ID: parsed}
	if err := identity.Validate(); err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// Validate rejects unknown kinds and nil ids.
func (i Identity) Validate() error {
	if i.Kind != KindUser && i.Kind != KindGuest {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown identity kind %q", i.Kind)
	}
	if i.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "identity id is required")
	}
	return nil
}

func (i Identity) IsGuest() bool {
	return i.Kind == KindGuest
}

func (i Identity) String() string {
	return string(i.Kind) + ":" + i.ID.String()
}

func (i Identity) key() string {
	return keyPrefix + ":" + i.String()
}
