package oauth2

import (
	"golang.org/x/oauth2/facebook"

	fa "github.com/panyam/fedauth"
)

const FacebookUserInfoURL = "https://graph.facebook.com/me?fields=id,name,email"

type FacebookOAuth2 struct {
	*BaseOAuth2
}

func NewFacebookOAuth2(cfg fa.ProviderConfig) *FacebookOAuth2 {
	return &FacebookOAuth2{
		BaseOAuth2: NewBaseOAuth2("facebook", cfg, facebook.Endpoint, FacebookUserInfoURL, "email"),
	}
}
