package usecase

import (
	"context"
	"testing"
	"time"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(outbound *fakeOutbound, accounts *fakeAccounts, quota *fakeQuota, sender MailSender) *FollowUpEvaluator {
	return NewFollowUpEvaluator(
		outbound, accounts, quota,
		&fakeTokens{}, staticSenderFactory(sender, nil),
		FollowUpSettings{BatchSize: 20},
		nil, logger.NewNop(),
	)
}

func followUpCandidate(id string, daysAgo int) *entity.OutboundEmail {
	sentAt := time.Now().Add(-time.Duration(daysAgo) * 24 * time.Hour)
	return &entity.OutboundEmail{
		ID:                id,
		AccountID:         "acc-1",
		UserID:            "user-1",
		ToEmail:           "r@x.test",
		ToName:            "Ana",
		Subject:           "Proposal",
		Status:            entity.OutboundSent,
		SentAt:            &sentAt,
		ProviderMessageID: "pm-orig",
		ProviderThreadID:  "pt-orig",
		FollowUpEnabled:   true,
		FollowUpCondition: entity.FollowUpNoReply,
		FollowUpDelayDays: 3,
	}
}

func TestShouldFollowUpConditionMatrix(t *testing.T) {
	e := newTestEvaluator(newFakeOutbound(), newFakeAccounts(), &fakeQuota{}, &fakeSender{})

	tests := []struct {
		name      string
		condition string
		opens     int
		hasReply  bool
		tracking  bool
		want      bool
	}{
		{"no_reply opened but silent", entity.FollowUpNoReply, 2, false, true, true},
		{"no_reply never opened with tracking", entity.FollowUpNoReply, 0, false, true, false},
		{"no_reply without tracking", entity.FollowUpNoReply, 0, false, false, true},
		{"no_reply but replied", entity.FollowUpNoReply, 2, true, true, false},
		{"no_open never opened", entity.FollowUpNoOpen, 0, false, true, true},
		{"no_open was opened", entity.FollowUpNoOpen, 1, false, true, false},
		{"always", entity.FollowUpAlways, 0, false, true, true},
		{"always but replied", entity.FollowUpAlways, 0, true, true, false},
		{"unknown condition", "sometime", 2, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email := followUpCandidate("o1", 5)
			email.FollowUpCondition = tt.condition
			email.OpenCount = tt.opens
			email.HasReply = tt.hasReply
			email.TrackingEnabled = tt.tracking

			assert.Equal(t, tt.want, e.shouldFollowUp(email))
		})
	}
}

func TestShouldFollowUpWaitsOutTheDelay(t *testing.T) {
	e := newTestEvaluator(newFakeOutbound(), newFakeAccounts(), &fakeQuota{}, &fakeSender{})

	early := followUpCandidate("o1", 2) // delay is 3 days
	early.OpenCount = 1
	assert.False(t, e.shouldFollowUp(early))

	ripe := followUpCandidate("o2", 4)
	ripe.OpenCount = 1
	assert.True(t, e.shouldFollowUp(ripe))
}

func TestProcessFollowUpsSendsThreadedReply(t *testing.T) {
	outbound := newFakeOutbound()
	outbound.candidates = []*entity.OutboundEmail{followUpCandidate("o1", 5)}
	outbound.candidates[0].OpenCount = 1

	sender := &fakeSender{}
	e := newTestEvaluator(outbound, newFakeAccounts(sendingAccount()), &fakeQuota{remaining: 10}, sender)

	require.NoError(t, e.ProcessFollowUps(context.Background()))

	require.Len(t, sender.sent, 1)
	sent := sender.sent[0]
	assert.Equal(t, "Re: Proposal", sent.Subject)
	assert.Equal(t, "pt-orig", sent.ThreadID)
	assert.Contains(t, sent.InReplyTo, "pm-orig")
	assert.Equal(t, sent.InReplyTo, sent.References)
	// Generic nudge with the recipient name merged in
	assert.Contains(t, sent.HTMLBody, "Hi Ana")

	// A linked outbound record exists for the follow-up itself
	require.Len(t, outbound.created, 1)
	require.NotNil(t, outbound.created[0].ParentEmailID)
	assert.Equal(t, "o1", *outbound.created[0].ParentEmailID)
	assert.True(t, outbound.followUpSent["o1"])
}

func TestProcessFollowUpsUsesCustomBody(t *testing.T) {
	outbound := newFakeOutbound()
	candidate := followUpCandidate("o1", 5)
	candidate.OpenCount = 1
	candidate.FollowUpBody = "<p>Hey {{name}}, still interested?</p>"
	outbound.candidates = []*entity.OutboundEmail{candidate}

	sender := &fakeSender{}
	e := newTestEvaluator(outbound, newFakeAccounts(sendingAccount()), &fakeQuota{remaining: 10}, sender)

	require.NoError(t, e.ProcessFollowUps(context.Background()))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "<p>Hey Ana, still interested?</p>", sender.sent[0].HTMLBody)
}

func TestProcessFollowUpsAtMostOncePerOriginal(t *testing.T) {
	outbound := newFakeOutbound()
	candidate := followUpCandidate("o1", 5)
	candidate.OpenCount = 1
	outbound.candidates = []*entity.OutboundEmail{candidate}
	outbound.followUpSent["o1"] = true // already claimed by another pass

	sender := &fakeSender{}
	e := newTestEvaluator(outbound, newFakeAccounts(sendingAccount()), &fakeQuota{remaining: 10}, sender)

	require.NoError(t, e.ProcessFollowUps(context.Background()))
	assert.Empty(t, sender.sent)
	assert.Empty(t, outbound.created)
}

func TestProcessFollowUpsSkipsRepliedCandidates(t *testing.T) {
	outbound := newFakeOutbound()
	candidate := followUpCandidate("o1", 10)
	candidate.OpenCount = 3
	candidate.HasReply = true
	outbound.candidates = []*entity.OutboundEmail{candidate}

	sender := &fakeSender{}
	e := newTestEvaluator(outbound, newFakeAccounts(sendingAccount()), &fakeQuota{remaining: 10}, sender)

	require.NoError(t, e.ProcessFollowUps(context.Background()))
	assert.Empty(t, sender.sent)
	assert.False(t, outbound.followUpSent["o1"], "a replied message is never claimed")
}

func TestProcessFollowUpsRespectsQuota(t *testing.T) {
	outbound := newFakeOutbound()
	candidate := followUpCandidate("o1", 5)
	candidate.OpenCount = 1
	outbound.candidates = []*entity.OutboundEmail{candidate}

	sender := &fakeSender{}
	e := newTestEvaluator(outbound, newFakeAccounts(sendingAccount()), &fakeQuota{remaining: 0}, sender)

	require.NoError(t, e.ProcessFollowUps(context.Background()))

	assert.Empty(t, sender.sent)
	assert.False(t, outbound.followUpSent["o1"], "unclaimed so a later pass can retry")
}

func TestProcessFollowUpsSkipsBlockedAccount(t *testing.T) {
	outbound := newFakeOutbound()
	candidate := followUpCandidate("o1", 5)
	candidate.OpenCount = 1
	outbound.candidates = []*entity.OutboundEmail{candidate}

	account := sendingAccount()
	account.CanSend = false

	sender := &fakeSender{}
	e := newTestEvaluator(outbound, newFakeAccounts(account), &fakeQuota{remaining: 10}, sender)

	require.NoError(t, e.ProcessFollowUps(context.Background()))
	assert.Empty(t, sender.sent)
}
