package escrow

import (
	"context"
	"crowdfund-bend/models"
	"fmt"
	"log"
)

// notify tells the request's creator about a transition
func (m *Machine) notify(ctx context.Context, e models.Escrow, tpl, body string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	if _, ok := data["Campaign"]; !ok {
		if c, err := m.store.Campaigns().FindByID(ctx, e.CampaignID); err == nil {
			data["Campaign"] = c.Title
		}
	}
	m.notifier.Send(ctx, models.Message{
		Template:   tpl,
		Recipient:  e.RequesterID,
		CampaignID: e.CampaignID,
		Body:       body,
		Type:       models.WithdrawalN,
		Action:     models.AInfo,
		Data:       data,
	})
}

// AnnounceVoting tells every donor of the campaign that a request is open
// for their vote. Call after the creating transaction committed.
func (m *Machine) AnnounceVoting(ctx context.Context, e models.Escrow) {
	c, err := m.store.Campaigns().FindByID(ctx, e.CampaignID)
	if err != nil {
		log.Printf("announce_voting_campaign: %v", err)
		return
	}
	donations, err := m.store.Donations().ListCompleted(ctx, e.CampaignID)
	if err != nil {
		log.Printf("announce_voting_donors: %v", err)
		return
	}

	data := map[string]interface{}{
		"Campaign": c.Title,
		"Amount":   e.Amount,
	}
	if e.VotingEndDate != nil {
		data["VotingEnds"] = e.VotingEndDate.Format("2006-01-02 15:04 MST")
	}
	if e.MilestonePercentage != nil {
		data["Milestone"] = *e.MilestonePercentage
	}

	seen := map[string]bool{}
	for _, d := range donations {
		if seen[d.DonorID.Hex()] {
			continue
		}
		seen[d.DonorID.Hex()] = true
		m.notifier.Send(ctx, models.Message{
			Template:   models.TplVotingOpened,
			Recipient:  d.DonorID,
			CampaignID: e.CampaignID,
			Body:       fmt.Sprintf("A withdrawal of %d from %s is open for your vote", e.Amount, c.Title),
			Type:       models.WithdrawalN,
			Action:     models.AAction,
			Data:       data,
		})
	}
}
