// Package glean extracts addresses and contacts from message headers.
package glean

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashita-ai/omomi/internal/model"
	"github.com/ashita-ai/omomi/internal/store"
)

// Result counts what one message contributed.
type Result struct {
	AddressesCreated int
	ContactsCreated  int
}

// Add accumulates r into the receiver.
func (r *Result) Add(o Result) {
	r.AddressesCreated += o.AddressesCreated
	r.ContactsCreated += o.ContactsCreated
}

// Glean parses From/To/Cc/Bcc of m, creates the missing address rows and a
// gleaned contact for every address without one, and marks the message
// gleaned. The account's own address never becomes a contact. m is updated
// in memory; the caller persists it.
func Glean(ctx context.Context, tx *store.Store, account *model.Account, m *model.EmailMessage) (Result, error) {
	var res Result
	own := ""
	if account != nil {
		own = model.CanonicalAddress(account.EmailAddr)
	}

	seen := make(map[string]bool)
	visit := func(mb model.Mailbox) (*model.EmailAddress, error) {
		a, created, err := tx.GetOrCreateAddress(ctx, m.AccountID, mb.Address)
		if err != nil {
			return nil, fmt.Errorf("glean: address %q: %w", mb.Address, err)
		}
		if created {
			res.AddressesCreated++
		}
		if seen[mb.Address] || mb.Address == own {
			return a, nil
		}
		seen[mb.Address] = true
		has, err := tx.HasContactForAddress(ctx, m.AccountID, mb.Address)
		if err != nil {
			return nil, fmt.Errorf("glean: contact lookup %q: %w", mb.Address, err)
		}
		if has {
			return a, nil
		}
		c := ContactFor(m.AccountID, mb)
		if _, err := tx.InsertContact(ctx, c); err != nil {
			return nil, fmt.Errorf("glean: insert contact %q: %w", mb.Address, err)
		}
		res.ContactsCreated++
		return a, nil
	}

	if from, ok := model.ParseMailbox(m.From); ok {
		a, err := visit(from)
		if err != nil {
			return res, err
		}
		m.FromAddressID = a.ID
		m.IsFromMe = own != "" && from.Address == own
	}
	for _, header := range []string{m.To, m.Cc, m.Bcc} {
		for _, mb := range model.ParseAddressList(header) {
			if _, err := visit(mb); err != nil {
				return res, err
			}
		}
	}

	m.GleanPhase = model.GleanPhase2
	return res, nil
}

// ContactFor builds a gleaned contact from a parsed mailbox.
func ContactFor(accountID int64, mb model.Mailbox) *model.Contact {
	first, last := SplitName(mb.Name)
	return &model.Contact{
		AccountID:      accountID,
		Source:         model.ContactGleaned,
		FirstName:      first,
		LastName:       last,
		EmailAddresses: []string{mb.Address},
	}
}

// SplitName splits a display name into first and last name. "Last, First"
// and "First Middle Last" are recognized; a single word is a first name.
func SplitName(name string) (first, last string) {
	name = strings.TrimSpace(strings.Trim(name, `"'`))
	if name == "" {
		return "", ""
	}
	if i := strings.Index(name, ","); i >= 0 {
		return strings.TrimSpace(name[i+1:]), strings.TrimSpace(name[:i])
	}
	fields := strings.Fields(name)
	if len(fields) == 1 {
		return fields[0], ""
	}
	return strings.Join(fields[:len(fields)-1], " "), fields[len(fields)-1]
}
