package models

// Role constants for members of an organization, as issued in identity-provider JWTs.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)
