package auth

// RegisterRequest contains partner signup data supplied by callers.
// ReferrerCode is optional; when present the new partner is attached to the
// recruiting partner's downline at signup.
type RegisterRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	DisplayName  string `json:"display_name"`
	ReferrerCode string `json:"referrer_code,omitempty"`
}

// LoginRequest contains partner login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
