package model

import (
	"fmt"
	"time"
)

// ScoringVersion is the analysis version every scored object converges to.
// Objects below it are picked up by the analysis sources.
const ScoringVersion = 3

// MinHotScore is the lowest score at which a message is presented as hot.
const MinHotScore = 0.5

// UnscoredSentinel marks a version-0 message that already had its quick
// score so it does not qualify for quick scoring again.
const UnscoredSentinel = 0.00000001

// GleanPhase records how far contact extraction has progressed for a message.
type GleanPhase int

const (
	NotGleaned  GleanPhase = 0
	GleanPhase1 GleanPhase = 1
	GleanPhase2 GleanPhase = 2
)

// VarianceMark is the persisted time variance column of a message. Only
// NONE and DONE are stored; DONE means no machine is left running and the
// score is stable.
type VarianceMark int

const (
	VarianceNone VarianceMark = 0
	VarianceDone VarianceMark = 1
)

// EmailMessage is the scorable view of a synced mail message.
type EmailMessage struct {
	ID            int64     `json:"id"`
	AccountID     int64     `json:"account_id"`
	MessageID     string    `json:"message_id"`
	InReplyTo     string    `json:"in_reply_to,omitempty"`
	From          string    `json:"from"`
	To            string    `json:"to,omitempty"`
	Cc            string    `json:"cc,omitempty"`
	Bcc           string    `json:"bcc,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Preview       string    `json:"preview,omitempty"`
	Body          string    `json:"body,omitempty"`
	Headers       string    `json:"headers,omitempty"`
	DateReceived  time.Time `json:"date_received"`
	FromAddressID int64     `json:"from_address_id,omitempty"`

	IsRead     bool `json:"is_read"`
	IsReplied  bool `json:"is_replied"`
	IsJunk     bool `json:"is_junk"`
	IsFromMe   bool `json:"is_from_me"`
	UserAction int  `json:"user_action"`

	// Flag dates; the zero time means the flag is not set.
	FlagStart  time.Time `json:"flag_start,omitempty"`
	FlagDue    time.Time `json:"flag_due,omitempty"`
	MeetingEnd time.Time `json:"meeting_end,omitempty"`

	// Scoring state.
	ScoreVersion    int          `json:"score_version"`
	Score           float64      `json:"score"`
	NeedUpdate      int          `json:"need_update"`
	VarianceMark    VarianceMark `json:"variance_mark"`
	IsReply         bool         `json:"is_reply"`
	HeadersFiltered bool         `json:"headers_filtered"`
	ScoreIsRead     bool         `json:"score_is_read"`
	ScoreIsReplied  bool         `json:"score_is_replied"`

	GleanPhase   GleanPhase `json:"glean_phase"`
	IndexVersion int        `json:"index_version"`
}

// ShouldUpdate reports whether a dependency asked for a rescore.
func (m *EmailMessage) ShouldUpdate() bool {
	return m.NeedUpdate > 0
}

// IsMeetingInvite reports whether the message carries a meeting end time.
func (m *EmailMessage) IsMeetingInvite() bool {
	return !m.MeetingEnd.IsZero()
}

// VarianceDescription is the time variance group owning this message's machines.
func (m *EmailMessage) VarianceDescription() string {
	return VarianceDescription(m.ID)
}

// VarianceDescription formats the time variance group name for a message id.
func VarianceDescription(messageID int64) string {
	return fmt.Sprintf("[EmailMessage:%d]", messageID)
}

// CurrentIndexVersion is the document format version written to the index.
// Messages and contacts with a lower IndexVersion are (re)indexed.
const CurrentIndexVersion = 1
