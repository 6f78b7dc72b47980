package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
)

// TokenSource returns a source for the bearer token configured in cfg, or
// nil when none is set. A token file holds a JSON encoded oauth2.Token.
func (cfg HeaderConfig) TokenSource() (oauth2.TokenSource, error) {
	switch {
	case cfg.TokenFile != "":
		token, err := tokenFromFile(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read token file: %v", err)
		}
		return oauth2.StaticTokenSource(token), nil
	case cfg.Token != "":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}), nil
	}
	return nil, nil
}

// AuthorizationValue renders the Authorization header value for ts.
func AuthorizationValue(ts oauth2.TokenSource) (string, error) {
	token, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("unable to get token: %v", err)
	}
	if !token.Valid() {
		return "", errors.New("token is expired and cannot be refreshed")
	}
	return token.Type() + " " + token.AccessToken, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	token := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(token)
	return token, err
}

// HeaderArgs lists the "Name: value" headers sent with every request:
// User-Agent first, then the user's headers in order, then Authorization.
func (cfg HeaderConfig) HeaderArgs() ([]string, error) {
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	args := append([]string{"User-Agent: " + ua}, cfg.Headers...)
	ts, err := cfg.TokenSource()
	if err != nil {
		return nil, err
	}
	if ts == nil {
		return args, nil
	}
	value, err := AuthorizationValue(ts)
	if err != nil {
		return nil, err
	}
	return append(args, "Authorization: "+value), nil
}
