package index

import (
	"strings"
	"time"

	"github.com/ashita-ai/omomi/internal/model"
)

// MessageDocument builds the index document of a mail message.
func MessageDocument(m *model.EmailMessage) Document {
	fields := map[string][]string{
		"from": addressField(m.From),
		"to":   addressField(m.To),
		"cc":   addressField(m.Cc),
		"bcc":  addressField(m.Bcc),
	}
	if !m.DateReceived.IsZero() {
		fields["received"] = []string{m.DateReceived.UTC().Format(time.RFC3339)}
	}
	content := joinNonEmpty(m.Subject, m.Preview, m.Body)
	return Document{
		AccountID: m.AccountID,
		Kind:      KindMessage,
		ID:        m.ID,
		Fields:    fields,
		Content:   content,
		Keywords:  Keywords(content),
	}
}

// ContactDocument builds the index document of a contact.
func ContactDocument(c *model.Contact) Document {
	var domains []string
	for _, addr := range c.EmailAddresses {
		if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
			domains = append(domains, strings.ToLower(addr[i+1:]))
		}
	}
	fields := map[string][]string{
		"first_name":      nonEmpty(c.FirstName),
		"last_name":       nonEmpty(c.LastName),
		"company_name":    nonEmpty(c.CompanyName),
		"email_addresses": c.EmailAddresses,
		"email_domains":   domains,
		"phone_numbers":   c.PhoneNumbers,
	}
	content := joinNonEmpty(c.FirstName, c.LastName, c.CompanyName, c.Note)
	return Document{
		AccountID: c.AccountID,
		Kind:      KindContact,
		ID:        c.ID,
		Fields:    fields,
		Content:   content,
		Keywords:  Keywords(content),
	}
}

func addressField(list string) []string {
	var out []string
	for _, mb := range model.ParseAddressList(list) {
		out = append(out, mb.Address)
	}
	return out
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
