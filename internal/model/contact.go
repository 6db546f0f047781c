package model

// ContactSource records where a contact came from.
type ContactSource string

const (
	ContactGleaned ContactSource = "gleaned"
	ContactRIC     ContactSource = "ric"
	ContactDevice  ContactSource = "device"
)

// Contact is an address book entry. RIC contacts carry a server-side
// weighted rank used for initial address scores.
type Contact struct {
	ID             int64         `json:"id"`
	AccountID      int64         `json:"account_id"`
	Source         ContactSource `json:"source"`
	FirstName      string        `json:"first_name,omitempty"`
	LastName       string        `json:"last_name,omitempty"`
	CompanyName    string        `json:"company_name,omitempty"`
	EmailAddresses []string      `json:"email_addresses"`
	PhoneNumbers   []string      `json:"phone_numbers,omitempty"`
	Note           string        `json:"note,omitempty"`
	WeightedRank   int           `json:"weighted_rank"`
	IndexVersion   int           `json:"index_version"`
}

// Account is a mail account the engine scores for.
type Account struct {
	ID        int64  `json:"id"`
	EmailAddr string `json:"email_addr"`
}
