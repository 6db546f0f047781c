package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/omomi/internal/model"
)

func newTestStore(t *testing.T) (*Store, *model.Account) {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := New(db)
	acct := &model.Account{EmailAddr: "Me@Example.com"}
	_, err = s.InsertAccount(context.Background(), acct)
	require.NoError(t, err)
	return s, acct
}

func TestOpenFileAndSchemaVersion(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "nested", "omomi.db"))
	require.NoError(t, err)
	defer db.Close()

	v, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestAccountRoundTrip(t *testing.T) {
	s, acct := newTestStore(t)
	got, err := s.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", got.EmailAddr)

	_, err = s.GetAccount(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetOrCreateAddress(t *testing.T) {
	s, acct := newTestStore(t)
	ctx := context.Background()

	a, created, err := s.GetOrCreateAddress(ctx, acct.ID, " Bob@Example.com ")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "bob@example.com", a.Address)

	again, created, err := s.GetOrCreateAddress(ctx, acct.ID, "bob@example.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, a.ID, again.ID)
}

func TestUpdateAddressAndQueues(t *testing.T) {
	s, acct := newTestStore(t)
	ctx := context.Background()
	a, _, err := s.GetOrCreateAddress(ctx, acct.ID, "bob@example.com")
	require.NoError(t, err)

	pending, err := s.AddressesNeedingAnalysis(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	a.ScoreVersion = model.ScoringVersion
	a.Stats.EmailsReceived = 3
	a.IsVip = true
	require.NoError(t, s.UpdateAddress(ctx, a))

	pending, err = s.AddressesNeedingAnalysis(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, s.MarkAddressForUpdate(ctx, a.ID))
	updates, err := s.AddressesNeedingUpdate(ctx, 10)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, 3, updates[0].Stats.EmailsReceived)
	assert.True(t, updates[0].IsVip)
	assert.Equal(t, 1, updates[0].NeedUpdate)

	missing := &model.EmailAddress{ID: 777}
	assert.ErrorIs(t, s.UpdateAddress(ctx, missing), ErrNotFound)
}

func TestMessageRoundTrip(t *testing.T) {
	s, acct := newTestStore(t)
	ctx := context.Background()
	received := time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC)
	m := &model.EmailMessage{
		AccountID:    acct.ID,
		MessageID:    "<a@example.com>",
		From:         "Bob <bob@example.com>",
		To:           "me@example.com",
		Subject:      "Quarterly numbers",
		DateReceived: received,
		FlagDue:      received.Add(48 * time.Hour),
		IsRead:       true,
		UserAction:   -1,
	}
	_, err := s.InsertMessage(ctx, m)
	require.NoError(t, err)

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, received, got.DateReceived)
	assert.Equal(t, received.Add(48*time.Hour), got.FlagDue)
	assert.True(t, got.FlagStart.IsZero())
	assert.True(t, got.IsRead)
	assert.Equal(t, -1, got.UserAction)

	byHeader, err := s.GetMessageByMessageID(ctx, acct.ID, "<a@example.com>")
	require.NoError(t, err)
	assert.Equal(t, m.ID, byHeader.ID)

	got.Score = 0.42
	got.ScoreVersion = model.ScoringVersion
	got.VarianceMark = model.VarianceDone
	require.NoError(t, s.UpdateMessage(ctx, got))
	again, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, again.Score, 1e-9)
	assert.Equal(t, model.VarianceDone, again.VarianceMark)

	require.NoError(t, s.DeleteMessage(ctx, m.ID))
	_, err = s.GetMessage(ctx, m.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMessageWorkQueries(t *testing.T) {
	s, acct := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		m := &model.EmailMessage{AccountID: acct.ID, DateReceived: base.Add(time.Duration(i) * time.Hour), FromAddressID: 9}
		if i%2 == 0 {
			m.ScoreVersion = model.ScoringVersion
			m.IndexVersion = model.CurrentIndexVersion
			m.GleanPhase = model.GleanPhase1
		}
		_, err := s.InsertMessage(ctx, m)
		require.NoError(t, err)
	}

	unscored, err := s.MessagesNeedingAnalysis(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unscored, 2)
	assert.True(t, unscored[0].DateReceived.After(unscored[1].DateReceived))

	unindexed, err := s.MessagesNeedingIndexing(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, unindexed, 1)

	quick, err := s.MessagesNeedingQuickScore(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, quick, 2)

	unglean, err := s.MessagesNeedingGleaning(ctx, acct.ID, 10)
	require.NoError(t, err)
	assert.Len(t, unglean, 2)

	n, err := s.MarkDependentMessages(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	updates, err := s.MessagesNeedingUpdate(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, updates, 2)

	total, pendingScore, pendingUpdate, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Equal(t, int64(2), pendingScore)
	assert.Equal(t, int64(4), pendingUpdate)
}

func TestVarianceCandidatesPaging(t *testing.T) {
	s, acct := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m := &model.EmailMessage{AccountID: acct.ID, DateReceived: base, ScoreVersion: model.ScoringVersion}
		if i == 2 {
			m.VarianceMark = model.VarianceDone
		}
		_, err := s.InsertMessage(ctx, m)
		require.NoError(t, err)
	}

	var seen []int64
	var afterReceived, afterID int64
	for {
		page, err := s.VarianceCandidates(ctx, afterReceived, afterID, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			seen = append(seen, m.ID)
		}
		last := page[len(page)-1]
		afterReceived, afterID = last.DateReceived.UnixMilli(), last.ID
	}
	assert.Equal(t, []int64{1, 2, 4, 5}, seen)
}

func TestContacts(t *testing.T) {
	s, acct := newTestStore(t)
	ctx := context.Background()
	ric := &model.Contact{AccountID: acct.ID, Source: model.ContactRIC, FirstName: "Ann",
		EmailAddresses: []string{"Ann@Example.com"}, WeightedRank: 40}
	low := &model.Contact{AccountID: acct.ID, Source: model.ContactRIC, FirstName: "Lou",
		EmailAddresses: []string{"lou@example.com"}, WeightedRank: 10}
	gleaned := &model.Contact{AccountID: acct.ID, Source: model.ContactGleaned,
		EmailAddresses: []string{"g@example.com"}, IndexVersion: model.CurrentIndexVersion}
	for _, c := range []*model.Contact{low, ric, gleaned} {
		_, err := s.InsertContact(ctx, c)
		require.NoError(t, err)
	}

	got, err := s.GetContact(ctx, ric.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ann@example.com"}, got.EmailAddresses)
	assert.Empty(t, got.PhoneNumbers)

	ok, err := s.HasContactForAddress(ctx, acct.ID, "ANN@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HasContactForAddress(ctx, acct.ID, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	rics, err := s.RICContacts(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, rics, 2)
	assert.Equal(t, "Ann", rics[0].FirstName)

	pending, err := s.ContactsNeedingIndexing(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	require.NoError(t, s.SetContactIndexVersion(ctx, ric.ID, model.CurrentIndexVersion))
	pending, err = s.ContactsNeedingIndexing(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, s.DeleteContact(ctx, low.ID))
	_, err = s.GetContact(ctx, low.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunInTxRollsBack(t *testing.T) {
	s, acct := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(tx *Store) error {
		_, _, err := tx.GetOrCreateAddress(ctx, acct.ID, "x@example.com")
		require.NoError(t, err)
		return tx.RunInTx(ctx, func(inner *Store) error { return boom })
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetAddressByValue(ctx, acct.ID, "x@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.RunInTx(ctx, func(tx *Store) error {
		_, _, err := tx.GetOrCreateAddress(ctx, acct.ID, "x@example.com")
		return err
	}))
	_, err = s.GetAddressByValue(ctx, acct.ID, "x@example.com")
	assert.NoError(t, err)
}
