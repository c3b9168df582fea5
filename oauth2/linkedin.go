package oauth2

import (
	"golang.org/x/oauth2/linkedin"

	fa "github.com/panyam/fedauth"
)

const LinkedInUserInfoURL = "https://api.linkedin.com/v2/me"

type LinkedInOAuth2 struct {
	*BaseOAuth2
}

// NewLinkedInOAuth2 signs in with LinkedIn.  The profile API has no single
// name field so the localized first name is used.
func NewLinkedInOAuth2(cfg fa.ProviderConfig) *LinkedInOAuth2 {
	out := LinkedInOAuth2{
		BaseOAuth2: NewBaseOAuth2("linkedin", cfg, linkedin.Endpoint, LinkedInUserInfoURL, "r_emailaddress", "r_liteprofile"),
	}
	out.NameFields = []string{"localizedFirstName", "name"}
	return &out
}
