package service

import "dairyrun/internal/model"

// Actor is the authenticated caller of an operation. Handlers build it from
// the request and pass it explicitly; services never read it from ambient
// state.
type Actor struct {
	UserID int64
	Role   string
}

// SystemActor runs scheduled jobs.
var SystemActor = Actor{UserID: 0, Role: model.RoleAdmin}

func (a Actor) IsAdmin() bool {
	return a.Role == model.RoleAdmin
}

// CanAccess reports whether the actor may read or change data owned by
// userID.
func (a Actor) CanAccess(userID int64) bool {
	return a.IsAdmin() || (a.UserID != 0 && a.UserID == userID)
}
