// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package gmailhttp builds an HTTP client authorized for the GMail API.

Client credentials come from an OAuth 2.0 "Desktop app" client secret
file downloaded from the Google Cloud console.  Tokens are cached in a
JSON file next to it; refreshed tokens are written back so the next run
does not have to authorize again.

When no cached token exists the user is sent through the browser.  A
loopback listener catches the redirect; if the browser cannot reach it
the user may paste the code, or the whole redirect URL, instead.
*/
package gmailhttp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/matta/threadimport/internal/gmail"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Config names the files used for authorization and where to talk to
// the user during the browser flow.
type Config struct {
	CredentialsPath string
	TokenPath       string

	In  io.Reader
	Out io.Writer
}

// New returns a new HTTP client capable of using the GMail API.
func New(ctx context.Context, c Config) (*http.Client, error) {
	b, err := os.ReadFile(c.CredentialsPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading credentials at %s", c.CredentialsPath)
	}
	cfg, err := google.ConfigFromJSON(b, gmail.ReadonlyScope)
	if err != nil {
		return nil, errors.Wrap(err, "parsing oauth config")
	}

	tok, err := readToken(c.TokenPath)
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			return nil, err
		}
		tok, err = tokenFromWeb(ctx, cfg, c.In, c.Out)
		if err != nil {
			return nil, err
		}
		if err := saveToken(c.TokenPath, tok); err != nil {
			return nil, err
		}
	}

	src := &savingTokenSource{
		src:  cfg.TokenSource(ctx, tok),
		path: c.TokenPath,
		last: tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// savingTokenSource writes every newly issued token to path.
// Satisfies oauth2.TokenSource.
type savingTokenSource struct {
	src  oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := saveToken(s.path, tok); err != nil {
			return nil, err
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening token %s", path)
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, errors.Wrapf(err, "decoding token %s", path)
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrapf(err, "creating directory for %s", path)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "creating %s", tmp)
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "saving token %s", path)
}

// tokenFromWeb prints the authorization URL and waits for the code,
// either from the loopback redirect or typed on in.
func tokenFromWeb(ctx context.Context, cfg *oauth2.Config, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "listening on loopback")
	}
	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/", ln.Addr().(*net.TCPAddr).Port)

	codes := make(chan string, 2)
	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "missing 'code' parameter", http.StatusBadRequest)
				return
			}
			fmt.Fprintln(w, "Authorization complete. You can close this window.")
			select {
			case codes <- code:
			default:
			}
		}),
	}
	go srv.Serve(ln)
	defer srv.Shutdown(context.Background())

	fmt.Fprintf(out, "Open this URL in a browser to authorize access to GMail:\n\n%s\n\n"+
		"Or paste the code (or the redirect URL) here: ",
		cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	if in != nil {
		go func() {
			line, err := bufio.NewReader(in).ReadString('\n')
			if err != nil && line == "" {
				return
			}
			if code, err := codeFromInput(line); err == nil {
				codes <- code
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case code := <-codes:
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, errors.Wrap(err, "token exchange")
		}
		return tok, nil
	}
}

// codeFromInput accepts either a bare authorization code or the full
// redirect URL containing one.
func codeFromInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty authorization code")
	}
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", errors.Wrap(err, "parsing redirect URL")
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", errors.New("no 'code' parameter found in pasted URL")
	}
	return code, nil
}
