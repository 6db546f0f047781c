package model

// AddressStats are the per-address counters the address score is derived from.
type AddressStats struct {
	EmailsReceived int `json:"emails_received"`
	EmailsRead     int `json:"emails_read"`
	EmailsReplied  int `json:"emails_replied"`
	EmailsSent     int `json:"emails_sent"`
	EmailsDeleted  int `json:"emails_deleted"`
	MarkedHot      int `json:"marked_hot"`
	MarkedNotHot   int `json:"marked_not_hot"`
}

// EmailAddress is a canonical address seen by an account.
type EmailAddress struct {
	ID           int64        `json:"id"`
	AccountID    int64        `json:"account_id"`
	Address      string       `json:"address"`
	IsVip        bool         `json:"is_vip"`
	ScoreVersion int          `json:"score_version"`
	Score        float64      `json:"score"`
	NeedUpdate   int          `json:"need_update"`
	Stats        AddressStats `json:"stats"`
}

// ShouldUpdate reports whether the address was marked for a rescore.
func (a *EmailAddress) ShouldUpdate() bool {
	return a.NeedUpdate > 0
}

// Classify computes the address score from its statistics:
//
//	top    = read + replied + sent + marked hot
//	bottom = received + sent + deleted + marked hot + marked not hot
//
// An address with no history scores 0.
func (a *EmailAddress) Classify() float64 {
	s := a.Stats
	top := s.EmailsRead + s.EmailsReplied + s.EmailsSent + s.MarkedHot
	bottom := s.EmailsReceived + s.EmailsSent + s.EmailsDeleted + s.MarkedHot + s.MarkedNotHot
	if bottom == 0 {
		return 0
	}
	score := float64(top) / float64(bottom)
	if score > 1 {
		score = 1
	}
	return score
}
