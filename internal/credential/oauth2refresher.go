package credential

import (
	"context"

	"golang.org/x/oauth2"
)

// oauth2Refresher implements ProviderRefresher against a fixed
// *oauth2.Config, delegating the actual HTTP exchange to
// golang.org/x/oauth2's own refresh-token grant. One instance is
// registered per provider (Slack, GitHub, Notion, Google, Discord) at
// bootstrap, built from that provider's client id/secret and its own
// OAuth2 token endpoint.
type oauth2Refresher struct {
	cfg *oauth2.Config
}

// NewOAuth2Refresher constructs a ProviderRefresher for any provider
// whose refresh grant follows the standard OAuth2 refresh-token flow.
func NewOAuth2Refresher(clientID, clientSecret, tokenURL string) ProviderRefresher {
	return &oauth2Refresher{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
	}
}

// Refresh exchanges refreshToken for a new access token via the
// provider's token endpoint.
func (r *oauth2Refresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}

// Well-known token endpoints for the providers EXTERNAL_ACTION and
// HUMAN_LOOP dispatch to.
const (
	SlackTokenURL   = "https://slack.com/api/oauth.v2.access"
	GitHubTokenURL  = "https://github.com/login/oauth/access_token"
	NotionTokenURL  = "https://api.notion.com/v1/oauth/token"
	GoogleTokenURL  = "https://oauth2.googleapis.com/token"
	DiscordTokenURL = "https://discord.com/api/oauth2/token"
)
