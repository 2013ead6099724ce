package dao

import (
	"context"
	"crowdfund-bend/models"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is an in-process Store with the same guarded-update semantics as
// MongoStore. Transactions snapshot every table and restore it when fn fails.
type MemoryStore struct {
	mu sync.Mutex
	// txMu serializes top-level transactions so a rollback never discards
	// another transaction's writes
	txMu sync.Mutex

	campaigns  map[primitive.ObjectID]models.Campaign
	donations  map[primitive.ObjectID]models.Donation
	escrows    map[primitive.ObjectID]models.Escrow
	votes      map[primitive.ObjectID]models.Vote
	refunds    map[primitive.ObjectID]models.Refund
	recoveries map[primitive.ObjectID]models.RecoveryCase
	users      map[primitive.ObjectID]models.User
	payouts    map[primitive.ObjectID]models.PayoutOption

	// FailNext, when set, is returned by the next write and cleared
	FailNext error
}

// NewMemoryStore ...
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns:  make(map[primitive.ObjectID]models.Campaign),
		donations:  make(map[primitive.ObjectID]models.Donation),
		escrows:    make(map[primitive.ObjectID]models.Escrow),
		votes:      make(map[primitive.ObjectID]models.Vote),
		refunds:    make(map[primitive.ObjectID]models.Refund),
		recoveries: make(map[primitive.ObjectID]models.RecoveryCase),
		users:      make(map[primitive.ObjectID]models.User),
		payouts:    make(map[primitive.ObjectID]models.PayoutOption),
	}
}

type memorySnapshot struct {
	campaigns  map[primitive.ObjectID]models.Campaign
	donations  map[primitive.ObjectID]models.Donation
	escrows    map[primitive.ObjectID]models.Escrow
	votes      map[primitive.ObjectID]models.Vote
	refunds    map[primitive.ObjectID]models.Refund
	recoveries map[primitive.ObjectID]models.RecoveryCase
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WithTransaction ...
func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTransaction(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := memorySnapshot{
		campaigns:  copyMap(s.campaigns),
		donations:  copyMap(s.donations),
		escrows:    copyMap(s.escrows),
		votes:      copyMap(s.votes),
		refunds:    copyMap(s.refunds),
		recoveries: copyMap(s.recoveries),
	}
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.campaigns = snap.campaigns
		s.donations = snap.donations
		s.escrows = snap.escrows
		s.votes = snap.votes
		s.refunds = snap.refunds
		s.recoveries = snap.recoveries
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *MemoryStore) failed() error {
	if s.FailNext != nil {
		err := s.FailNext
		s.FailNext = nil
		return err
	}
	return nil
}

// Campaigns ...
func (s *MemoryStore) Campaigns() CampaignRepository { return memCampaigns{s} }

// Donations ...
func (s *MemoryStore) Donations() DonationRepository { return memDonations{s} }

// Escrows ...
func (s *MemoryStore) Escrows() EscrowRepository { return memEscrows{s} }

// Votes ...
func (s *MemoryStore) Votes() VoteRepository { return memVotes{s} }

// Refunds ...
func (s *MemoryStore) Refunds() RefundRepository { return memRefunds{s} }

// Recoveries ...
func (s *MemoryStore) Recoveries() RecoveryRepository { return memRecoveries{s} }

// Users ...
func (s *MemoryStore) Users() UserRepository { return memUsers{s} }

// PutUser seeds a user document
func (s *MemoryStore) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

type memCampaigns struct{ s *MemoryStore }

func (r memCampaigns) Insert(_ context.Context, c models.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failed(); err != nil {
		return err
	}
	if _, ok := r.s.campaigns[c.ID]; ok {
		return ErrDuplicate
	}
	r.s.campaigns[c.ID] = c
	return nil
}

func (r memCampaigns) FindByID(_ context.Context, id primitive.ObjectID) (models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return c, ErrNotFound
	}
	return c, nil
}

func (r memCampaigns) IncrementFunding(_ context.Context, id primitive.ObjectID, amount int64) (models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failed(); err != nil {
		return models.Campaign{}, err
	}
	c, ok := r.s.campaigns[id]
	if !ok {
		return c, ErrNotFound
	}
	c.CurrentAmount += amount
	c.DonationCount++
	c.UpdatedAt = time.Now().UTC()
	r.s.campaigns[id] = c
	return c, nil
}

func (r memCampaigns) UpdateStatus(_ context.Context, id primitive.ObjectID, from []models.CampaignStatus, to models.CampaignStatus, reason string, now time.Time) (models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failed(); err != nil {
		return models.Campaign{}, err
	}
	c, ok := r.s.campaigns[id]
	if !ok {
		return c, ErrConflict
	}
	matched := false
	for _, f := range from {
		if c.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return models.Campaign{}, ErrConflict
	}
	c.Status = to
	c.UpdatedAt = now
	if to == models.CampaignCancelled {
		c.CancellationReason = reason
		c.CancelledAt = &now
	}
	r.s.campaigns[id] = c
	return c, nil
}

func (r memCampaigns) MarkExpiryProcessed(_ context.Context, id primitive.ObjectID, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.ExpiryProcessedAt = &now
	r.s.campaigns[id] = c
	return nil
}

func (r memCampaigns) ListExpired(_ context.Context, now time.Time) ([]models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Campaign
	for _, c := range r.s.campaigns {
		if c.Status.AcceptsDonations() && !c.EndDate.After(now) && c.ExpiryProcessedAt == nil {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memDonations struct{ s *MemoryStore }

func (r memDonations) Insert(_ context.Context, d models.Donation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failed(); err != nil {
		return err
	}
	for _, existing := range r.s.donations {
		if existing.OrderInvoiceNumber == d.OrderInvoiceNumber {
			return ErrDuplicate
		}
	}
	r.s.donations[d.ID] = d
	return nil
}

func (r memDonations) FindByID(_ context.Context, id primitive.ObjectID) (models.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.donations[id]
	if !ok {
		return d, ErrNotFound
	}
	return d, nil
}

func (r memDonations) FindByInvoice(_ context.Context, invoice string) (models.Donation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.byInvoice(invoice)
	if !ok {
		return d, ErrNotFound
	}
	return d, nil
}

func (r memDonations) byInvoice(invoice string) (models.Donation, bool) {
	for _, d := range r.s.donations {
		if d.OrderInvoiceNumber == invoice {
			return d, true
		}
	}
	return models.Donation{}, false
}

func (r memDonations) SetProviderOrder(_ context.Context, id primitive.ObjectID, providerOrderID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.donations[id]
	if !ok {
		return ErrNotFound
	}
	d.ProviderOrderID = providerOrderID
	r.s.donations[id] = d
	return nil
}

func (r memDonations) MarkCompleted(_ context.Context, invoice, providerTxID string, paidAt time.Time, payload string) (models.Donation, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failed(); err != nil {
		return models.Donation{}, false, err
	}
	d, ok := r.byInvoice(invoice)
	if !ok || d.PaymentStatus.HasSettled() {
		return models.Donation{}, false, nil
	}
	d.PaymentStatus = models.PaymentCompleted
	d.PaidAt = &paidAt
	d.ProviderPayload = payload
	if providerTxID != "" {
		d.ProviderTransactionID = providerTxID
	}
	d.UpdatedAt = time.Now().UTC()
	r.s.donations[d.ID] = d
	return d, true, nil
}

func (r memDonations) MarkFailed(_ context.Context, invoice string, status models.PaymentStatus, payload string, now time.Time) (models.Donation, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.byInvoice(invoice)
	if !ok || d.PaymentStatus != models.PaymentPending {
		return models.Donation{}, false, nil
	}
	d.PaymentStatus = status
	d.ProviderPayload = payload
	d.UpdatedAt = now
	r.s.donations[d.ID] = d
	return d, true, nil
}

func (r memDonations) MarkMailSent(_ context.Context, id primitive.ObjectID, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.donations[id]
	if !ok || d.MailSentAt != nil {
		return false, nil
	}
	d.MailSentAt = &now
	r.s.donations[id] = d
	return true, nil
}

func (r memDonations) list(match func(models.Donation) bool) []models.Donation {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Donation
	for _, d := range r.s.donations {
		if match(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r memDonations) ListCompleted(_ context.Context, campaignID primitive.ObjectID) ([]models.Donation, error) {
	return r.list(func(d models.Donation) bool {
		return d.CampaignID == campaignID && d.PaymentStatus == models.PaymentCompleted
	}), nil
}

func (r memDonations) ListPendingRefund(_ context.Context, campaignID primitive.ObjectID) ([]models.Donation, error) {
	return r.list(func(d models.Donation) bool {
		return d.CampaignID == campaignID && d.PaymentStatus == models.PaymentPartiallyRefunded && d.RemainingRefundPending > 0
	}), nil
}

func (r memDonations) SumCompletedByDonor(_ context.Context, campaignID, donorID primitive.ObjectID) (int64, error) {
	var total int64
	for _, d := range r.list(func(d models.Donation) bool {
		return d.CampaignID == campaignID && d.DonorID == donorID && d.PaymentStatus == models.PaymentCompleted
	}) {
		total += d.Amount
	}
	return total, nil
}

func (r memDonations) ApplyRefund(_ context.Context, d models.Donation, expected models.PaymentStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failed(); err != nil {
		return err
	}
	stored, ok := r.s.donations[d.ID]
	if !ok || stored.PaymentStatus != expected {
		return ErrConflict
	}
	stored.PaymentStatus = d.PaymentStatus
	stored.RefundedAmount = d.RefundedAmount
	stored.RefundRatio = d.RefundRatio
	stored.RemainingRefundPending = d.RemainingRefundPending
	stored.UpdatedAt = d.UpdatedAt
	r.s.donations[d.ID] = stored
	return nil
}

type memEscrows struct{ s *MemoryStore }

func (r memEscrows) Insert(_ context.Context, e models.Escrow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failed(); err != nil {
		return err
	}
	if e.Open {
		for _, existing := range r.s.escrows {
			if existing.CampaignID == e.CampaignID && existing.Open {
				return ErrDuplicate
			}
		}
	}
	r.s.escrows[e.ID] = e
	return nil
}

func (r memEscrows) FindByID(_ context.Context, id primitive.ObjectID) (models.Escrow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.escrows[id]
	if !ok {
		return e, ErrNotFound
	}
	return e, nil
}

func (r memEscrows) Update(_ context.Context, e models.Escrow, expected models.EscrowStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failed(); err != nil {
		return err
	}
	stored, ok := r.s.escrows[e.ID]
	if !ok || stored.Status != expected {
		return ErrConflict
	}
	if e.Open && !stored.Open {
		for id, existing := range r.s.escrows {
			if id != e.ID && existing.CampaignID == e.CampaignID && existing.Open {
				return ErrDuplicate
			}
		}
	}
	r.s.escrows[e.ID] = e
	return nil
}

func (r memEscrows) list(match func(models.Escrow) bool) []models.Escrow {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Escrow
	for _, e := range r.s.escrows {
		if match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r memEscrows) ListOpen(_ context.Context, campaignID primitive.ObjectID) ([]models.Escrow, error) {
	return r.list(func(e models.Escrow) bool { return e.CampaignID == campaignID && e.Open }), nil
}

func (r memEscrows) ListAutoCreated(_ context.Context, campaignID primitive.ObjectID) ([]models.Escrow, error) {
	return r.list(func(e models.Escrow) bool { return e.CampaignID == campaignID && e.AutoCreated }), nil
}

func (r memEscrows) ListByCampaign(_ context.Context, campaignID primitive.ObjectID) ([]models.Escrow, error) {
	return r.list(func(e models.Escrow) bool { return e.CampaignID == campaignID }), nil
}

func (r memEscrows) SumReleased(_ context.Context, campaignID primitive.ObjectID) (int64, error) {
	var total int64
	for _, e := range r.list(func(e models.Escrow) bool {
		return e.CampaignID == campaignID && e.Status == models.EscrowReleased
	}) {
		total += e.Amount
	}
	return total, nil
}

func (r memEscrows) ListByStatus(_ context.Context, status models.EscrowStatus) ([]models.Escrow, error) {
	return r.list(func(e models.Escrow) bool { return e.Status == status }), nil
}

func (r memEscrows) ListVotingExpired(_ context.Context, now time.Time) ([]models.Escrow, error) {
	return r.list(func(e models.Escrow) bool {
		return e.Status == models.EscrowVotingInProgress && e.VotingEndDate != nil && !e.VotingEndDate.After(now)
	}), nil
}

func (r memEscrows) ListUpdateOverdue(_ context.Context, now time.Time) ([]models.Escrow, error) {
	return r.list(func(e models.Escrow) bool {
		return e.Status == models.EscrowReleased &&
			e.ProgressUpdateDueAt != nil && !e.ProgressUpdateDueAt.After(now) &&
			e.ProgressUpdateSubmittedAt == nil && e.WarningEmailSentAt == nil
	}), nil
}

func (r memEscrows) ListWarnedBefore(_ context.Context, cutoff time.Time) ([]models.Escrow, error) {
	return r.list(func(e models.Escrow) bool {
		return e.Status == models.EscrowReleased && e.ProgressUpdateSubmittedAt == nil &&
			e.WarningEmailSentAt != nil && !e.WarningEmailSentAt.After(cutoff)
	}), nil
}

func (r memEscrows) MarkWarningSent(_ context.Context, id primitive.ObjectID, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.escrows[id]
	if !ok || e.WarningEmailSentAt != nil {
		return false, nil
	}
	e.WarningEmailSentAt = &now
	e.UpdatedAt = now
	r.s.escrows[id] = e
	return true, nil
}

type memVotes struct{ s *MemoryStore }

func (r memVotes) Upsert(_ context.Context, v models.Vote) (models.Vote, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failed(); err != nil {
		return models.Vote{}, err
	}
	for id, existing := range r.s.votes {
		if existing.EscrowID == v.EscrowID && existing.DonorID == v.DonorID {
			existing.Value = v.Value
			existing.DonatedAmount = v.DonatedAmount
			existing.VoteWeight = v.VoteWeight
			existing.UpdatedAt = v.UpdatedAt
			r.s.votes[id] = existing
			return existing, nil
		}
	}
	r.s.votes[v.ID] = v
	return v, nil
}

func (r memVotes) ListByEscrow(_ context.Context, escrowID primitive.ObjectID) ([]models.Vote, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Vote
	for _, v := range r.s.votes {
		if v.EscrowID == escrowID {
			out = append(out, v)
		}
	}
	return out, nil
}

type memRefunds struct{ s *MemoryStore }

func (r memRefunds) Insert(_ context.Context, rf models.Refund) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failed(); err != nil {
		return err
	}
	for _, existing := range r.s.refunds {
		if existing.DonationID == rf.DonationID {
			return ErrDuplicate
		}
	}
	r.s.refunds[rf.ID] = rf
	return nil
}

func (r memRefunds) FindByDonation(_ context.Context, donationID primitive.ObjectID) (models.Refund, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rf := range r.s.refunds {
		if rf.DonationID == donationID {
			return rf, nil
		}
	}
	return models.Refund{}, ErrNotFound
}

func (r memRefunds) Update(_ context.Context, rf models.Refund) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failed(); err != nil {
		return err
	}
	if _, ok := r.s.refunds[rf.ID]; !ok {
		return ErrNotFound
	}
	r.s.refunds[rf.ID] = rf
	return nil
}

func (r memRefunds) ListByCampaign(_ context.Context, campaignID primitive.ObjectID) ([]models.Refund, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Refund
	for _, rf := range r.s.refunds {
		if rf.CampaignID == campaignID {
			out = append(out, rf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

type memRecoveries struct{ s *MemoryStore }

func cloneCase(rc models.RecoveryCase) models.RecoveryCase {
	rc.Timeline = append([]models.TimelineEntry(nil), rc.Timeline...)
	return rc
}

func (r memRecoveries) Insert(_ context.Context, rc models.RecoveryCase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failed(); err != nil {
		return err
	}
	for _, existing := range r.s.recoveries {
		if existing.CampaignID == rc.CampaignID {
			return ErrDuplicate
		}
	}
	r.s.recoveries[rc.ID] = cloneCase(rc)
	return nil
}

func (r memRecoveries) FindByID(_ context.Context, id primitive.ObjectID) (models.RecoveryCase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rc, ok := r.s.recoveries[id]
	if !ok {
		return rc, ErrNotFound
	}
	return cloneCase(rc), nil
}

func (r memRecoveries) FindByCampaign(_ context.Context, campaignID primitive.ObjectID) (models.RecoveryCase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rc := range r.s.recoveries {
		if rc.CampaignID == campaignID {
			return cloneCase(rc), nil
		}
	}
	return models.RecoveryCase{}, ErrNotFound
}

func (r memRecoveries) Update(_ context.Context, rc models.RecoveryCase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failed(); err != nil {
		return err
	}
	if _, ok := r.s.recoveries[rc.ID]; !ok {
		return ErrNotFound
	}
	r.s.recoveries[rc.ID] = cloneCase(rc)
	return nil
}

func (r memRecoveries) ListOverdue(_ context.Context, now time.Time) ([]models.RecoveryCase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.RecoveryCase
	for _, rc := range r.s.recoveries {
		if (rc.Status == models.RecoveryPending || rc.Status == models.RecoveryInProgress) && !rc.Deadline.After(now) {
			out = append(out, cloneCase(rc))
		}
	}
	return out, nil
}

type memUsers struct{ s *MemoryStore }

func (r memUsers) FindByID(_ context.Context, id primitive.ObjectID) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return u, ErrNotFound
	}
	return u, nil
}

func (r memUsers) FindPayoutOption(_ context.Context, userID primitive.ObjectID) (models.PayoutOption, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	opt, ok := r.s.payouts[userID]
	if !ok {
		return opt, ErrNotFound
	}
	return opt, nil
}

func (r memUsers) UpsertPayoutOption(_ context.Context, opt models.PayoutOption) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.payouts[opt.UserID]; ok {
		opt.ID = existing.ID
		opt.CreatedAt = existing.CreatedAt
	}
	r.s.payouts[opt.UserID] = opt
	return nil
}
