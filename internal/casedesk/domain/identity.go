package domain

const (
	RoleAdmin      = "ROLE_ADMIN"
	StatusVerified = "VERIFIED"
)

// Identity is the signed-in user as returned by auth.login. Only Role and
// Status carry meaning for the session subsystem; the rest is passed through.
type Identity struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	Status   string `json:"status,omitempty"`
}

func (i Identity) IsAdmin() bool    { return i.Role == RoleAdmin }
func (i Identity) IsVerified() bool { return i.Status == StatusVerified }

// Role based access. Every mutating or file-transferring capability is
// restricted to administrators; everyone else is view only.
func (i Identity) CanCreate() bool   { return i.IsAdmin() }
func (i Identity) CanEdit() bool     { return i.IsAdmin() }
func (i Identity) CanDelete() bool   { return i.IsAdmin() }
func (i Identity) CanDownload() bool { return i.IsAdmin() }
func (i Identity) CanRename() bool   { return i.IsAdmin() }
func (i Identity) CanUpload() bool   { return i.IsAdmin() }
func (i Identity) IsViewOnly() bool  { return !i.IsAdmin() }

// DisplayName returns the username, falling back to the email.
func (i Identity) DisplayName() string {
	if i.Username != "" {
		return i.Username
	}
	return i.Email
}
