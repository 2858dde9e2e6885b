package google

import (
	"fmt"
	"io/fs"
	"os"
	"slices"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

// Scopes requested during authorization: write access to events for
// inserting, and read-only access for listing the account's calendars.
var Scopes = []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope}

// MissingScopes returns the entries of Scopes that granted does not
// include. Grants stored before a scope was added need a new authorization.
func MissingScopes(granted []string) []string {
	var missing []string
	for _, want := range Scopes {
		if !slices.Contains(granted, want) {
			missing = append(missing, want)
		}
	}
	return missing
}

// NewOAuthConfig returns the OAuth2 client configuration.
// It prioritizes explicit client credentials over a client secret JSON file.
func NewOAuthConfig(clientID, clientSecret, credentialsFile, redirectURL string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("%s not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or a client secret file", credentialsFile)
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = redirectURL
	return config, nil
}
