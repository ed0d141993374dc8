package backend

import "encoding/json"

// Role values issued by the portal backend.
const (
	RoleDoctor  = "DOCTOR"
	RolePatient = "PATIENT"
	RoleAdmin   = "ADMIN"
)

// Credentials is the login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration is the signup request body. Extra carries the role-specific
// fields (speciality, insurance number, ...) the portal collects per role.
type Registration struct {
	Role      string `json:"role"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`

	Extra map[string]any `json:"-"`
}

// MarshalJSON flattens Extra into the top-level object so role-specific
// fields sit beside the common ones on the wire.
func (r Registration) MarshalJSON() ([]byte, error) {
	payload := map[string]any{
		"role":      r.Role,
		"username":  r.Username,
		"password":  r.Password,
		"email":     r.Email,
		"firstName": r.FirstName,
		"lastName":  r.LastName,
	}
	for k, v := range r.Extra {
		payload[k] = v
	}
	return json.Marshal(payload)
}

// User is the profile object embedded in authentication responses. The
// backend is inconsistent about which identifier field it populates, so all
// three are modeled; see AuthResponse.DerivedUserID.
type User struct {
	ID        json.Number    `json:"id,omitempty"`
	UserID    json.Number    `json:"userId,omitempty"`
	UUID      string         `json:"uuid,omitempty"`
	Username  string         `json:"username,omitempty"`
	Email     string         `json:"email,omitempty"`
	FirstName string         `json:"firstName,omitempty"`
	LastName  string         `json:"lastName,omitempty"`
	Raw       map[string]any `json:"-"`
}

// UnmarshalJSON keeps the raw object alongside the typed fields so the full
// profile can be cached verbatim.
func (u *User) UnmarshalJSON(data []byte) error {
	type alias User
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*u = User(a)
	return json.Unmarshal(data, &u.Raw)
}

// AuthResponse is returned by both login and register.
type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	User         *User  `json:"user,omitempty"`
}

// DerivedUserID returns the first present identifier on the embedded user
// object, stringified: id, then userId, then uuid. Empty when no user object
// or no identifier is present.
func (r *AuthResponse) DerivedUserID() string {
	if r.User == nil {
		return ""
	}
	if s := r.User.ID.String(); s != "" {
		return s
	}
	if s := r.User.UserID.String(); s != "" {
		return s
	}
	return r.User.UUID
}

// TokenPair is returned by the refresh endpoint. Both tokens rotate on every
// successful refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
