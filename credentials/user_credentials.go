/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package credentials

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// UserCredentials is the interactive-login provider variant (spec.md
// 4.10), grounded on the teacher's Login/JWT flow (client/client.go
// Client.Login): POST userName/password to Hub/Login, hold the
// returned access token, and sign subsequent requests the same way
// RepositoryCredentials does under a different header prefix.
//
// If multiple goroutines race into Login, only the first performs the
// POST; the rest block on a condition variable and observe
// Authenticated() on wake, per spec.md 4.10.
type UserCredentials struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu            sync.Mutex
	cond          *sync.Cond
	loggingIn     bool
	authenticated bool
	token         string
	loginErr      error
}

// NewUserCredentials builds a provider that logs in against
// baseURL+"/Hub/Login" with the given username/password.
func NewUserCredentials(baseURL, username, password string, httpClient *http.Client) *UserCredentials {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &UserCredentials{baseURL: baseURL, username: username, password: password, httpClient: httpClient}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *UserCredentials) RequiresAuthentication(req *http.Request) bool { return true }

func (c *UserCredentials) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Login performs the POST form login, coordinating concurrent callers
// so exactly one request hits the wire.
func (c *UserCredentials) Login(ctx context.Context) error {
	c.mu.Lock()
	if c.authenticated {
		c.mu.Unlock()
		return nil
	}
	if c.loggingIn {
		for c.loggingIn {
			c.cond.Wait()
		}
		err := c.loginErr
		authed := c.authenticated
		c.mu.Unlock()
		if authed {
			return nil
		}
		if err != nil {
			return err
		}
		return ErrLoginFailed
	}
	c.loggingIn = true
	c.mu.Unlock()

	token, err := c.doLogin(ctx)

	c.mu.Lock()
	c.loggingIn = false
	c.loginErr = err
	if err == nil {
		c.token = token
		c.authenticated = true
	}
	c.cond.Broadcast()
	c.mu.Unlock()
	return err
}

func (c *UserCredentials) doLogin(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("userName", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Hub/Login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %s", ErrLoginFailed, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	return string(body), nil
}

// Authenticate signs req under the Gibraltar-User-Credentials scheme.
func (c *UserCredentials) Authenticate(req *http.Request) error {
	c.mu.Lock()
	token := c.token
	authed := c.authenticated
	c.mu.Unlock()
	if !authed {
		return ErrMissingProvider
	}
	sig := signPath([]byte(token), req.URL.RequestURI())
	req.Header.Set("Authorization", "Gibraltar-User-Credentials: "+sig)
	return nil
}
