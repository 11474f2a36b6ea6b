package http

type ErrorResponse struct {
	Message string `json:"message"`
}

type authRequest struct {
	Token           string  `json:"token"`
	TokenExpiryDays *uint64 `json:"token_expiry_days,omitempty"`
}

type authTokenResponse struct {
	Token string `json:"token"`
}
