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

// Package gmail fetches messages from a GMail mailbox.
package gmail

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/matta/threadimport/internal/message"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	gmail_api "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	ReadonlyScope = gmail_api.GmailReadonlyScope

	DefaultQuery = "-is:chat {in:inbox in:sent}"

	// See https://developers.google.com/gmail/api/v1/reference/quota
	quotaUnitsMessagesGet     = 5
	quotaUnitsPerGetProfile   = 2
	quotaUnitsPerMessagesList = 1

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond

	fetchConcurrency = 4
)

var (
	ErrMessageNotFound = errors.New("gmail message not found")
)

// Options controls which messages Fetch returns.
type Options struct {
	// A GMail search query.  Empty means DefaultQuery.
	Query string

	// Stop listing after this many messages.  Zero means no limit.
	Max int64
}

// GmailService provides access to messages stored in Google's GMail
// system.  It satisfies importer.Source and importer.Profiler.
type GmailService struct {
	service *gmail_api.Service
	limiter *rate.Limiter
	opts    Options

	mu      sync.Mutex
	profile *message.Profile
}

func isChat(msg *gmail_api.Message) bool {
	for _, label := range msg.LabelIds {
		if label == "CHAT" {
			return true
		}
	}
	return false
}

// New returns a GmailService that talks to GMail through client.
// Extra client options are passed to the API library.
func New(ctx context.Context, client *http.Client, opts Options, extra ...option.ClientOption) (*GmailService, error) {
	if opts.Query == "" {
		opts.Query = DefaultQuery
	}
	s, err := gmail_api.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(client)}, extra...)...)
	if err != nil {
		return nil, errors.Wrap(err, "creating gmail service")
	}
	l := rate.NewLimiter(rateLimitPerSecond, rateLimitBurst)
	return &GmailService{service: s, limiter: l, opts: opts}, nil
}

// Fetch lists the messages matching the query, downloads each in raw
// form, and returns them oldest first so that replies follow the
// messages they answer.  Messages that vanish between listing and
// download are skipped, as are later copies of a Message-ID already
// returned.
func (s *GmailService) Fetch(ctx context.Context) ([]message.Raw, error) {
	var ids []string
	err := s.ListAll(ctx, func(id message.ID) error {
		ids = append(ids, id.PermID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]*message.Raw, len(ids))
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(fetchConcurrency)
	for i, id := range ids {
		grp.Go(func() error {
			m, err := s.GetMessageFull(gctx, id)
			if errors.Cause(err) == ErrMessageNotFound {
				return nil
			}
			if err != nil {
				return err
			}
			msgs[i] = m
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, errors.Wrap(err, "unable to download messages")
	}

	out := make([]message.Raw, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			out = append(out, *m)
		}
	}
	message.SortChronological(out)
	log.Printf("downloaded %d of %d listed Gmail messages", len(out), len(ids))
	return uniqueByID(out), nil
}

// uniqueByID keeps the first message with each UniversalID.  GMail
// stores one copy per delivery, so a message that reached the mailbox
// twice (say, through a list and a direct Cc) is listed twice.
func uniqueByID(msgs []message.Raw) []message.Raw {
	seen := make(map[string]bool, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		if seen[m.UniversalID] {
			log.Printf("skipping duplicate of %s (gmail id %s)", m.UniversalID, m.SourceID)
			continue
		}
		seen[m.UniversalID] = true
		out = append(out, m)
	}
	return out
}

func (s *GmailService) ListAll(ctx context.Context, handler func(message.ID) error) error {
	if err := s.limiter.WaitN(ctx, quotaUnitsPerMessagesList); err != nil {
		return err
	}
	req := s.service.Users.Messages.List("me").Q(s.opts.Query)
	total := 0
	err := req.Pages(ctx, func(page *gmail_api.ListMessagesResponse) (err error) {
		log.Printf("listed page of Gmail messages; count %d; total so far %d", len(page.Messages), total+len(page.Messages))
		for _, msg := range page.Messages {
			if s.opts.Max > 0 && int64(total) >= s.opts.Max {
				return errLimitReached
			}
			m := message.ID{PermID: msg.Id, ThreadID: msg.ThreadId}
			if err := handler(m); err != nil {
				return err
			}
			total++
		}
		if page.NextPageToken != "" {
			err = s.limiter.WaitN(ctx, quotaUnitsPerMessagesList)
		}
		return
	})
	log.Printf("done listing Gmail messages; total %d", total)
	if err == errLimitReached {
		err = nil
	}
	if err != nil {
		err = errors.Wrap(err, "unable to retrieve all messages")
	}
	return err
}

var errLimitReached = errors.New("message limit reached")

func (s *GmailService) getMessage(ctx context.Context, call *gmail_api.UsersMessagesGetCall) (*gmail_api.Message, error) {
	for {
		if err := s.limiter.WaitN(ctx, quotaUnitsMessagesGet); err != nil {
			return nil, err
		}
		msg, err := call.Do()
		if err == nil && isChat(msg) {
			err = ErrMessageNotFound
		}
		if err == nil {
			return msg, nil
		}

		switch cause := errors.Cause(err).(type) {
		case *googleapi.Error:
			if cause.Code == http.StatusTooManyRequests {
				continue // retry
			}
			if cause.Code == http.StatusNotFound {
				log.Printf("Warning: message not found...")
				err = ErrMessageNotFound
			}
		}
		return nil, err
	}
}

// GetMessageFull downloads one message in raw form.
func (s *GmailService) GetMessageFull(ctx context.Context, id string) (*message.Raw, error) {
	msg, err := s.getMessage(ctx, s.service.Users.Messages.Get("me", id).
		Context(ctx).Format("raw"))
	if err != nil {
		return nil, errors.Wrapf(err, "getting message %v from gmail", id)
	}
	raw, err := decodeRaw(msg.Raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding message %v from gmail", id)
	}
	m, err := parseRaw(msg.Id, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing message %v from gmail", id)
	}
	// When the Date header is missing or malformed, use the time GMail
	// received the message.
	if m.Date.IsZero() && msg.InternalDate > 0 {
		m.Date = time.UnixMilli(msg.InternalDate).UTC()
	}
	return m, nil
}

// decodeRaw accepts padded and unpadded base64url, both of which show
// up in practice.
func decodeRaw(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// GetProfile asks GMail for the account profile once; later calls
// return the same value.
func (s *GmailService) GetProfile(ctx context.Context) (*message.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile != nil {
		return s.profile, nil
	}

	if err := s.limiter.WaitN(ctx, quotaUnitsPerGetProfile); err != nil {
		return nil, err
	}
	u, err := s.service.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrap(err, "getting gmail profile")
	}
	s.profile = &message.Profile{
		EmailAddress: u.EmailAddress,
		HistoryID:    u.HistoryId,
	}
	return s.profile, nil
}
