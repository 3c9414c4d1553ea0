package models

// Session identifies the authenticated caller of an operation.
// It is built by the auth middleware and passed explicitly to services.
type Session struct {
	UserID   uint
	Username string
	TokenID  string
}

// Authenticated reports whether s identifies a user.
func (s Session) Authenticated() bool {
	return s.UserID != 0
}

