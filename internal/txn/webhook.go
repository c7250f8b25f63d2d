package txn

import (
	"context"
	"errors"
	"fmt"

	"satchat/internal/bitnob"
	"satchat/internal/btc"
	"satchat/internal/repo"
	"satchat/internal/twilio"
)

// HandleBitnobEvent reconciles provider webhook events against stored
// transactions. Replayed deliveries are absorbed without side effects.
func (m *Manager) HandleBitnobEvent(ctx context.Context, event bitnob.Event) error {
	eventID, err := m.store.InsertWebhookEvent(ctx, "bitnob", event.Type, event.Raw)
	if err != nil {
		return fmt.Errorf("audit webhook: %w", err)
	}

	switch event.Type {
	case bitnob.EventTransactionSuccess, bitnob.EventTransactionCompleted:
		err = m.applyProviderSuccess(ctx, event.Data)
	case bitnob.EventTransactionFailed:
		err = m.applyProviderFailure(ctx, event.Data)
	case bitnob.EventWalletCredited:
		err = m.applyWalletCredit(ctx, event.Data)
	default:
		m.logger.Info("ignoring unrecognized webhook event", "event", event.Type)
	}
	if err != nil {
		return err
	}

	if err := m.store.MarkWebhookEventProcessed(ctx, eventID); err != nil {
		m.logger.Warn("failed to mark webhook event processed", "error", err)
	}
	return nil
}

func (m *Manager) applyProviderSuccess(ctx context.Context, data bitnob.EventData) error {
	tx, err := m.resolveTransaction(ctx, data)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			m.logger.Warn("success event for unknown transaction", "reference", data.Reference)
			return nil
		}
		return err
	}

	var providerID, hash *string
	if data.ID != "" {
		providerID = &data.ID
	}
	if data.TxHash != "" {
		hash = &data.TxHash
	}
	err = m.store.MarkTransactionCompleted(ctx, tx.ID, providerID, hash)
	if errors.Is(err, repo.ErrInvalidTransition) {
		// Already terminal; a replayed delivery.
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete transaction: %w", err)
	}
	m.count(repo.TxCompleted)

	m.notifyOwner(ctx, tx.UserID, fmt.Sprintf(
		"✅ *Transaction Confirmed!*\n\nReference: %s\nStatus: Completed", tx.Reference))
	return nil
}

func (m *Manager) applyProviderFailure(ctx context.Context, data bitnob.EventData) error {
	tx, err := m.resolveTransaction(ctx, data)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			m.logger.Warn("failure event for unknown transaction", "reference", data.Reference)
			return nil
		}
		return err
	}

	reason := data.FailureReason
	if reason == "" {
		reason = "Unknown"
	}
	err = m.store.MarkTransactionFailed(ctx, tx.ID, reason)
	if errors.Is(err, repo.ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fail transaction: %w", err)
	}
	m.count(repo.TxFailed)

	m.notifyOwner(ctx, tx.UserID, fmt.Sprintf(
		"❌ *Transaction Failed*\n\nReference: %s\nReason: %s", tx.Reference, reason))
	return nil
}

// applyWalletCredit records an inbound deposit as a completed receive
// transaction, keyed by provider transaction id for replay dedupe.
func (m *Manager) applyWalletCredit(ctx context.Context, data bitnob.EventData) error {
	if data.ID != "" {
		if _, err := m.store.GetTransactionByProviderID(ctx, data.ID); err == nil {
			return nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("dedupe credit: %w", err)
		}
	}

	if data.Address == "" {
		m.logger.Warn("credit event without address")
		return nil
	}
	user, err := m.store.GetUserByAddress(ctx, data.Address)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			m.logger.Warn("credit event for unknown address", "address", btc.TruncateAddress(data.Address))
			return nil
		}
		return fmt.Errorf("resolve credited user: %w", err)
	}

	reference := data.Reference
	if reference == "" {
		reference = btc.NewReference("RCV")
	}
	var providerID, hash *string
	if data.ID != "" {
		providerID = &data.ID
	}
	if data.TxHash != "" {
		hash = &data.TxHash
	}

	tx := &repo.Transaction{
		UserID:        user.ID,
		Type:          repo.TxTypeReceive,
		AmountSats:    data.Satoshis,
		SenderAddress: nil,
		Status:        repo.TxPending,
		ProviderTxID:  providerID,
		ChainHash:     hash,
		Reference:     reference,
	}
	if err := m.store.CreateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("record deposit: %w", err)
	}
	if err := m.store.MarkTransactionCompleted(ctx, tx.ID, providerID, hash); err != nil {
		return fmt.Errorf("complete deposit: %w", err)
	}
	m.count(repo.TxCompleted)

	m.notifyOwner(ctx, user.ID, twilio.DepositReceivedMessage(btc.FormatAmount(data.Satoshis), reference))
	return nil
}

func (m *Manager) resolveTransaction(ctx context.Context, data bitnob.EventData) (*repo.Transaction, error) {
	if data.ID != "" {
		tx, err := m.store.GetTransactionByProviderID(ctx, data.ID)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	if data.Reference != "" {
		return m.store.GetTransactionByReference(ctx, data.Reference)
	}
	return nil, repo.ErrNotFound
}

// notifyOwner sends a push notification to the user behind a transaction.
// Delivery failures are logged, not propagated: the webhook is already applied.
func (m *Manager) notifyOwner(ctx context.Context, userID, body string) {
	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		m.logger.Warn("notify lookup failed", "error", err, "user_id", userID)
		return
	}
	if _, err := m.messenger.SendWhatsApp(ctx, user.PhoneNumber, body); err != nil {
		m.logger.Warn("notify delivery failed", "error", err, "user_id", userID)
	}
}
