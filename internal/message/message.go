package message

// This file provides the common data objects used by the rest of the
// program.

import (
	"database/sql"
	"sort"
	"time"
)

// Raw is a message as delivered by a message source, before any
// thread or sender resolution has happened.
type Raw struct {
	// The globally unique identifier of the message.  For email
	// this is the RFC 5322 Message-ID header, angle brackets
	// included.
	UniversalID string

	// The UniversalID of the message this one replies to.  Not
	// Valid when the message starts a new conversation.
	InReplyTo sql.Null[string]

	// The human readable conversation title.  Only consulted when
	// the message starts a new thread.
	Subject string

	// The sender's address, as found in the From header.
	SenderAddress string

	// When the message was sent.  May be zero.
	Date time.Time

	// The identifier used by the source system, e.g. the GMail
	// API's Users.messages resource "id" field.  May be empty.
	SourceID string

	// The entire message in RFC 5322 form.  May be empty for
	// sources that only deliver headers.
	Body []byte
}

// Thread is one conversation.
type Thread struct {
	// Assigned by the store when the thread is persisted.  Not
	// Valid before that.
	ID sql.Null[int64]

	// Taken from the subject of the message that started the
	// conversation.  Never changes after creation.
	Name string
}

// NewThread returns an unpersisted thread rooted at m.
func NewThread(m Raw) *Thread {
	return &Thread{Name: m.Subject}
}

// Normalized is a message after its thread and sender have been
// resolved.
type Normalized struct {
	UniversalID string
	InReplyTo   sql.Null[string]

	// The internal ID of the sending user.  Not Valid when no user
	// matches the sender address; that is not an error.
	SenderID sql.Null[int64]

	// The ID of the thread the message belongs to.
	ThreadID int64

	Date time.Time
}

// User is a known sender.
type User struct {
	ID      int64
	Address string
	Name    string
}

// ID identifies a message in a source's own terms.
type ID struct {
	// The permanent and unique ID of a message in a storage
	// system.
	PermID string

	// The permanent and unique ID of a thread associated with the
	// message.  May be empty in storage systems that do not
	// support this concept.
	ThreadID string
}

// Profile defines per-account information in a message mailbox.
type Profile struct {
	EmailAddress string

	// The ID of the mailbox's current history record.
	HistoryID uint64
}

// Run records one completed import.
type Run struct {
	ID       string
	Started  time.Time
	Finished time.Time

	Fetched  int
	Threads  int
	Messages int

	// The source's history ID at the time of the import, if the
	// source reports one.
	HistoryID sql.Null[uint64]
}

// SortChronological orders msgs oldest first.  Messages with equal
// dates keep their relative order; undated messages sort first.
func SortChronological(msgs []Raw) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Date.Before(msgs[j].Date)
	})
}
