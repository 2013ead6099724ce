package notifications

import "crowdfund-bend/models"

var titles = map[string]string{
	models.TplThankYou:         "Thank you for your donation",
	models.TplVotingOpened:     "A withdrawal request is open for voting",
	models.TplVotingClosed:     "Voting has closed",
	models.TplWithdrawalDone:   "Funds released",
	models.TplWithdrawalDenied: "Withdrawal request rejected",
	models.TplUpdateOverdue:    "Progress update overdue",
	models.TplCampaignCanceled: "Campaign cancelled",
	models.TplRefundProcessed:  "Your refund has been processed",
}

func titleFor(template string) string {
	if t, ok := titles[template]; ok {
		return t
	}
	return "Crowdfund notification"
}
