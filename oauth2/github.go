package oauth2

import (
	"golang.org/x/oauth2/github"

	fa "github.com/panyam/fedauth"
)

const GithubUserInfoURL = "https://api.github.com/user"

type GithubOAuth2 struct {
	*BaseOAuth2
}

// NewGithubOAuth2 signs in with GitHub.  GitHub ids are numeric; logins can
// be renamed so they are only used as a display name fallback.
func NewGithubOAuth2(cfg fa.ProviderConfig) *GithubOAuth2 {
	out := GithubOAuth2{
		BaseOAuth2: NewBaseOAuth2("github", cfg, github.Endpoint, GithubUserInfoURL, "read:user", "user:email"),
	}
	out.NameFields = []string{"name", "login"}
	return &out
}
