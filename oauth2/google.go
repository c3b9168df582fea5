package oauth2

import (
	"golang.org/x/oauth2/google"

	fa "github.com/panyam/fedauth"
)

const GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

type GoogleOAuth2 struct {
	*BaseOAuth2
}

// NewGoogleOAuth2 signs in with Google.  The account id is the OpenID
// subject, which stays stable when the user changes their email.
func NewGoogleOAuth2(cfg fa.ProviderConfig) *GoogleOAuth2 {
	out := GoogleOAuth2{
		BaseOAuth2: NewBaseOAuth2("google", cfg, google.Endpoint, GoogleUserInfoURL, "openid", "profile", "email"),
	}
	out.IDField = "sub"
	return &out
}
