package scoring

import (
	"errors"
	"regexp"

	"github.com/ashita-ai/omomi/internal/model"
)

// Weights are the tunable factors of the message features.
type Weights struct {
	VipScore                float64
	MarkedHotWeight         float64
	MarkedNotHotPenalty     float64
	HeadersFilteringPenalty float64
	// DirectAddressWeight is the share of a scored message's base factor
	// that comes from being addressed directly to the account. The rest
	// is the sender's address score.
	DirectAddressWeight float64
}

// DefaultWeights are used when no override is configured.
var DefaultWeights = Weights{
	VipScore:                1.0,
	MarkedHotWeight:         1.0,
	MarkedNotHotPenalty:     0.1,
	HeadersFilteringPenalty: 0.2,
	DirectAddressWeight:     0,
}

// ErrUnknownSender is returned by Classify when the sender has no address row.
var ErrUnknownSender = errors.New("scoring: unknown sender")

// MessageInput is the object message features look at.
type MessageInput struct {
	Message *model.EmailMessage
	Sender  *model.EmailAddress
}

// OriginalLookup finds a message of an account by its Message-ID header.
type OriginalLookup func(accountID int64, messageID string) (*model.EmailMessage, bool)

var (
	marketingHeaders = regexp.MustCompile(`(?im)X-Campaign(.*):|List-Unsubscribe:`)
	yahooBulkHeaders = regexp.MustCompile(`(?im)X-YahooFilteredBulk:`)
)

func headerFilter(re *regexp.Regexp) func(*MessageInput) bool {
	return func(in *MessageInput) bool {
		m := in.Message
		if m.HeadersFiltered {
			return false
		}
		if m.Headers == "" || !re.MatchString(m.Headers) {
			return false
		}
		m.HeadersFiltered = true
		return true
	}
}

func headersFiltered(in *MessageInput) bool { return in.Message.HeadersFiltered }

// MessageScorer holds the message qualifiers and disqualifiers.
type MessageScorer struct {
	weights       Weights
	qualifiers    []*Qualifier[*MessageInput]
	disqualifiers []*Qualifier[*MessageInput]
	anyQualified  Combiner
	strongestHit  Combiner
	senderBlend   Combiner
}

// NewMessageScorer wires the built-in features. lookup may be nil, in which
// case replies are never recognized.
func NewMessageScorer(w Weights, lookup OriginalLookup) *MessageScorer {
	replies := NewQualifier("replies to my emails", 1.0, func(in *MessageInput) bool {
		return in.Message.IsReply
	}).WithAnalyze(func(in *MessageInput) bool {
		m := in.Message
		isReply := false
		if lookup != nil && m.InReplyTo != "" {
			if original, ok := lookup(m.AccountID, m.InReplyTo); ok {
				isReply = original.IsFromMe
			}
		}
		if isReply == m.IsReply {
			return false
		}
		m.IsReply = isReply
		return true
	})

	s := &MessageScorer{
		weights: w,
		qualifiers: []*Qualifier[*MessageInput]{
			NewQualifier("vip", w.VipScore, func(in *MessageInput) bool {
				return in.Sender != nil && in.Sender.IsVip
			}),
			NewQualifier("marked hot", w.MarkedHotWeight, func(in *MessageInput) bool {
				return in.Message.UserAction == 1
			}),
			replies,
		},
		disqualifiers: []*Qualifier[*MessageInput]{
			NewDisqualifier("marked not hot", w.MarkedNotHotPenalty, func(in *MessageInput) bool {
				return in.Message.UserAction == -1
			}),
			NewDisqualifier("marketing mail", w.HeadersFilteringPenalty, headersFiltered).
				WithAnalyze(headerFilter(marketingHeaders)),
			NewDisqualifier("bulk mail", w.HeadersFilteringPenalty, headersFiltered).
				WithAnalyze(headerFilter(yahooBulkHeaders)),
		},
		anyQualified: MaxOf{},
		strongestHit: MinOf{},
	}
	blend, err := NewLinear(1-w.DirectAddressWeight, w.DirectAddressWeight)
	if err != nil {
		// Out of range; config validation rejects this before it gets here.
		blend, _ = NewLinear(1, 0)
	}
	s.senderBlend = blend
	return s
}

// Analyze runs every feature's analysis step and reports whether any of
// them changed the message.
func (s *MessageScorer) Analyze(in *MessageInput) bool {
	changed := false
	for _, q := range s.qualifiers {
		if q.Analyze(in) {
			changed = true
		}
	}
	for _, q := range s.disqualifiers {
		if q.Analyze(in) {
			changed = true
		}
	}
	return changed
}

// Qualified returns the strongest qualifier vote.
func (s *MessageScorer) Qualified(in *MessageInput) (float64, error) {
	return s.anyQualified.Combine(Votes(in, s.qualifiers))
}

// Penalty returns the strongest disqualifier vote; Max means no penalty.
func (s *MessageScorer) Penalty(in *MessageInput) (float64, error) {
	return s.strongestHit.Combine(Votes(in, s.disqualifiers))
}

// Classify scores a message. variance is the product of the message's time
// variance adjustments at the time of scoring.
//
// Unscored messages get a quick score: MinHotScore when addressed directly
// to the account, otherwise model.UnscoredSentinel, which is also written
// back so the message does not qualify again.
func (s *MessageScorer) Classify(in *MessageInput, account *model.Account, variance float64) (float64, error) {
	m := in.Message
	if m.ScoreVersion == 0 && m.Score == 0 {
		if account != nil && model.AddressedTo(m.To, account.EmailAddr) {
			return model.MinHotScore, nil
		}
		m.Score = model.UnscoredSentinel
		return m.Score, nil
	}
	if in.Sender == nil {
		return 0, ErrUnknownSender
	}

	qualified, err := s.Qualified(in)
	if err != nil {
		return 0, err
	}
	if qualified == Max {
		return Max, nil
	}

	penalty, err := s.Penalty(in)
	if err != nil {
		return 0, err
	}
	direct := Min
	if account != nil && model.AddressedTo(m.To, account.EmailAddr) {
		direct = Max
	}
	base, err := s.senderBlend.Combine([]Vote{Const(in.Sender.Classify()), Const(direct)})
	if err != nil {
		return 0, err
	}
	score, err := Multiplicative{}.Combine([]Vote{
		Const(base),
		Const(variance),
		Const(penalty),
	})
	if err != nil {
		return 0, err
	}
	if m.UserAction < 0 && score >= model.MinHotScore {
		score = model.MinHotScore - 0.01
	}
	return score, nil
}
