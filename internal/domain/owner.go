package domain

// Owner identifies who holds a reservation: an authenticated user or a guest session, never both
type Owner struct {
	UserID    string
	SessionID string
}

// ResolveOwner picks the reservation owner for a request.
// An authenticated user id takes precedence over a guest session id.
func ResolveOwner(userID, sessionID string) (Owner, error) {
	if userID != "" {
		return Owner{UserID: userID}, nil
	}
	if sessionID != "" {
		return Owner{SessionID: sessionID}, nil
	}
	return Owner{}, ErrIdentificationRequired
}

// Validate checks exactly one identity is set
func (o Owner) Validate() error {
	if (o.UserID == "") == (o.SessionID == "") {
		return ErrIdentificationRequired
	}
	return nil
}

// IsGuest reports whether the owner is an anonymous session
func (o Owner) IsGuest() bool {
	return o.UserID == ""
}

// String is used as a log field
func (o Owner) String() string {
	if o.IsGuest() {
		return "session:" + o.SessionID
	}
	return "user:" + o.UserID
}
