package models

// Role identifies which side of a conversation a participant occupies.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// Valid reports whether the role is one of the two conversation sides.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAgent
}

// Peer returns the opposite side of the conversation.
func (r Role) Peer() Role {
	if r == RoleCustomer {
		return RoleAgent
	}
	return RoleCustomer
}
