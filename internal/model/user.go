package model

// User is the authenticated helpdesk account returned by login.
type User struct {
	ID           ID     `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role,omitempty"`
	DepartmentID ID     `json:"departmentId,omitempty"`
}

// DisplayName returns the user's name, falling back to the email address.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
