package domain

type Role string

const (
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleTutor || r == RoleStudent || r == RoleAdmin
}

// Requester is an identity already verified by the caller.
type Requester struct {
	ID   string
	Role Role
}

func (r Requester) IsAdmin() bool {
	return r.Role == RoleAdmin
}
