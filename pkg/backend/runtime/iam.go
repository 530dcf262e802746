/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultIAMURL is the public token endpoint.
const DefaultIAMURL = "https://iam.cloud.ibm.com/identity/token"

const apiKeyGrant = "urn:ibm:params:oauth:grant-type:apikey"

// expiryDelta is shaved off every token lifetime so a token is refreshed
// before the server starts rejecting it.
const expiryDelta = time.Minute

// iamTokenSource exchanges an API key for a short-lived bearer token.
type iamTokenSource struct {
	ctx    context.Context
	url    string
	apiKey string
	client *http.Client
	now    func() time.Time
}

type iamToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Expiration  int64  `json:"expiration"`
}

// NewIAMTokenSource returns a caching oauth2.TokenSource for apiKey. client
// is used for the exchange itself; nil means http.DefaultClient.
func NewIAMTokenSource(ctx context.Context, iamURL, apiKey string, client *http.Client) oauth2.TokenSource {
	if iamURL == "" {
		iamURL = DefaultIAMURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return oauth2.ReuseTokenSource(nil, &iamTokenSource{
		ctx:    ctx,
		url:    iamURL,
		apiKey: apiKey,
		client: client,
		now:    time.Now,
	})
}

// Token implements oauth2.TokenSource.
func (s *iamTokenSource) Token() (*oauth2.Token, error) {
	form := url.Values{
		"grant_type": {apiKeyGrant},
		"apikey":     {s.apiKey},
	}
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting IAM token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading IAM token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Method: req.Method, Path: req.URL.Path, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tok iamToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decoding IAM token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("IAM response carried no access token")
	}

	t := &oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
	}
	switch {
	case tok.Expiration > 0:
		t.Expiry = time.Unix(tok.Expiration, 0).Add(-expiryDelta)
	case tok.ExpiresIn > 0:
		t.Expiry = s.now().Add(time.Duration(tok.ExpiresIn)*time.Second - expiryDelta)
	}
	return t, nil
}
