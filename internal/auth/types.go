package auth

// Operator roles. Viewers read state; admins may also trigger control actions.
const (
	RoleViewer = "viewer"
	RoleAdmin  = "admin"
)

// OperatorClaims identifies the dashboard or script calling the API
type OperatorClaims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
}

// IsAdmin reports whether the operator may use control endpoints
func (c OperatorClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// AuthError is returned to API clients as {"error": code, "message": message}
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

var (
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden    = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
	ErrUnknownRole  = AuthError{Code: "UNKNOWN_ROLE", Message: "unknown operator role"}
)
