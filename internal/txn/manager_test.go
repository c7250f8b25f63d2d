package txn

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"satchat/internal/bitnob"
	"satchat/internal/btc"
	"satchat/internal/logging"
	"satchat/internal/otp"
	"satchat/internal/repo"
	"satchat/internal/twilio"
	"satchat/migrations"
)

const testAddress = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"

type fakeWallet struct {
	balance int64
	fee     int64
	feeErr  error

	sendResult *bitnob.SendResult
	sendErr    error
	sendCalls  int
}

func (f *fakeWallet) GetWalletBalance(ctx context.Context, walletID string) (int64, error) {
	return f.balance, nil
}

func (f *fakeWallet) SendBitcoin(ctx context.Context, walletID, address string, amountSats int64, description string) (*bitnob.SendResult, error) {
	f.sendCalls++
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.sendResult, nil
}

func (f *fakeWallet) EstimateFee(ctx context.Context, amountSats int64) (int64, error) {
	return f.fee, f.feeErr
}

type fakeMessenger struct {
	otpErr   error
	lastOTP  string
	messages []string
}

func (f *fakeMessenger) SendWhatsApp(ctx context.Context, toNumber, body string) (*twilio.SendResult, error) {
	f.messages = append(f.messages, body)
	return &twilio.SendResult{SID: "SM1", Status: "queued"}, nil
}

func (f *fakeMessenger) SendOTP(ctx context.Context, toNumber, code, purpose string) (string, error) {
	if f.otpErr != nil {
		return "", f.otpErr
	}
	f.lastOTP = code
	return twilio.ChannelWhatsApp, nil
}

func strPtr(s string) *string { return &s }

func newTestManager(t *testing.T, wallet *fakeWallet, messenger *fakeMessenger) (*Manager, repo.Store, *repo.User) {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, ":memory:", logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.SQLite()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	user, err := store.CreateUser(ctx, "+254712345678")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	user.FullName = strPtr("Alice Wanjiku")
	user.Email = strPtr("alice@example.com")
	user.Status = repo.UserStatusActive
	user.IsKYCCompleted = true
	user.CustomerID = strPtr("cust-1")
	user.WalletID = strPtr("wallet-1")
	user.BitcoinAddress = strPtr(testAddress)
	if err := store.UpdateUser(ctx, user); err != nil {
		t.Fatalf("update user: %v", err)
	}

	otps := otp.New(otp.Config{}, store, logging.Discard(), nil)
	limits := Limits{MinSendSats: 1_000, MaxSendSats: 100_000_000}
	mgr := New(store, wallet, messenger, otps, limits, logging.Discard(), nil)
	return mgr, store, user
}

func TestInitiateValidation(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeWallet{balance: 1_000_000, fee: 500}
	mgr, store, user := newTestManager(t, wallet, &fakeMessenger{})

	notReady, err := store.CreateUser(ctx, "+254700000001")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := mgr.Initiate(ctx, notReady, testAddress, 100_000); !errors.Is(err, ErrAccountNotReady) {
		t.Fatalf("unprovisioned user error = %v, want ErrAccountNotReady", err)
	}

	if _, err := mgr.Initiate(ctx, user, "not-an-address", 100_000); !errors.Is(err, btc.ErrAddressInvalid) {
		t.Fatalf("bad address error = %v, want ErrAddressInvalid", err)
	}
	if _, err := mgr.Initiate(ctx, user, testAddress, 500); !errors.Is(err, btc.ErrAmountTooSmall) {
		t.Fatalf("below minimum error = %v, want ErrAmountTooSmall", err)
	}
	if _, err := mgr.Initiate(ctx, user, testAddress, 200_000_000); !errors.Is(err, btc.ErrAmountTooLarge) {
		t.Fatalf("above maximum error = %v, want ErrAmountTooLarge", err)
	}

	wallet.balance = 100_000
	if _, err := mgr.Initiate(ctx, user, testAddress, 100_000); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("insufficient balance error = %v, want ErrInsufficientBalance", err)
	}
}

func TestInitiateRejectsLockedAccount(t *testing.T) {
	ctx := context.Background()
	mgr, store, user := newTestManager(t, &fakeWallet{balance: 1_000_000, fee: 500}, &fakeMessenger{})

	user.IsLocked = true
	if err := store.UpdateUser(ctx, user); err != nil {
		t.Fatalf("update user: %v", err)
	}
	if _, err := mgr.Initiate(ctx, user, testAddress, 100_000); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locked account error = %v, want ErrAccountLocked", err)
	}
}

func TestInitiateRecordsPendingTransaction(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeWallet{balance: 1_000_000, fee: 500}
	mgr, store, user := newTestManager(t, wallet, &fakeMessenger{})

	tx, err := mgr.Initiate(ctx, user, testAddress, 100_000)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if tx.Status != repo.TxPending {
		t.Fatalf("status = %q", tx.Status)
	}
	if tx.FeeSats != 500 {
		t.Fatalf("fee = %d, want the provider estimate", tx.FeeSats)
	}

	got, err := store.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.SessionState != repo.SessionAwaitingConfirm {
		t.Fatalf("session state = %q", got.SessionState)
	}
	if got.SessionData == nil || got.SessionData.TransactionID != tx.ID {
		t.Fatalf("session data = %+v", got.SessionData)
	}
	if got.SessionData.Reference != tx.Reference {
		t.Fatalf("session reference = %q, want %q", got.SessionData.Reference, tx.Reference)
	}
}

func TestInitiateFallsBackOnFeeEstimateFailure(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeWallet{balance: 1_000_000, feeErr: errors.New("provider down")}
	mgr, _, user := newTestManager(t, wallet, &fakeMessenger{})

	tx, err := mgr.Initiate(ctx, user, testAddress, 100_000)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if tx.FeeSats != fallbackFeeSats {
		t.Fatalf("fee = %d, want fallback %d", tx.FeeSats, fallbackFeeSats)
	}
}

func TestCancelAbortsPendingTransaction(t *testing.T) {
	ctx := context.Background()
	mgr, store, user := newTestManager(t, &fakeWallet{balance: 1_000_000, fee: 500}, &fakeMessenger{})

	tx, err := mgr.Initiate(ctx, user, testAddress, 100_000)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := mgr.Cancel(ctx, user); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := store.GetTransactionByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if got.Status != repo.TxCancelled {
		t.Fatalf("status = %q, want cancelled", got.Status)
	}
	if user.SessionState != repo.SessionNone || user.SessionData != nil {
		t.Fatal("session not cleared after cancel")
	}

	// Cancelling again with no session is a no-op.
	if err := mgr.Cancel(ctx, user); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
}

func TestRequestAuthorizationDeliversCode(t *testing.T) {
	ctx := context.Background()
	messenger := &fakeMessenger{}
	mgr, store, user := newTestManager(t, &fakeWallet{balance: 1_000_000, fee: 500}, messenger)

	if _, err := mgr.Initiate(ctx, user, testAddress, 100_000); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := mgr.RequestAuthorization(ctx, user); err != nil {
		t.Fatalf("request authorization: %v", err)
	}
	if len(messenger.lastOTP) != 6 {
		t.Fatalf("delivered code %q is not 6 digits", messenger.lastOTP)
	}
	if user.SessionState != repo.SessionAwaitingOTP {
		t.Fatalf("session state = %q, want awaiting_otp", user.SessionState)
	}

	active, err := store.LatestActiveOTP(ctx, user.ID, otp.PurposeTransaction)
	if err != nil {
		t.Fatalf("latest active otp: %v", err)
	}
	if active.Code != messenger.lastOTP {
		t.Fatal("stored code differs from delivered code")
	}
}

func TestRequestAuthorizationDeliveryFailureFailsTransaction(t *testing.T) {
	ctx := context.Background()
	messenger := &fakeMessenger{otpErr: errors.New("both channels down")}
	mgr, store, user := newTestManager(t, &fakeWallet{balance: 1_000_000, fee: 500}, messenger)

	tx, err := mgr.Initiate(ctx, user, testAddress, 100_000)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := mgr.RequestAuthorization(ctx, user); err == nil {
		t.Fatal("expected delivery failure error")
	}

	got, err := store.GetTransactionByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if got.Status != repo.TxFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if user.SessionState != repo.SessionNone {
		t.Fatal("session not cleared after delivery failure")
	}
}

func TestVerifyAndExecuteSuccess(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeWallet{
		balance:    1_000_000,
		fee:        500,
		sendResult: &bitnob.SendResult{ID: "prov-1", Reference: "r", Status: "success", TxHash: "hash-1"},
	}
	messenger := &fakeMessenger{}
	mgr, store, user := newTestManager(t, wallet, messenger)

	tx, err := mgr.Initiate(ctx, user, testAddress, 100_000)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := mgr.RequestAuthorization(ctx, user); err != nil {
		t.Fatalf("request authorization: %v", err)
	}

	result, err := mgr.VerifyAndExecute(ctx, user, messenger.lastOTP)
	if err != nil {
		t.Fatalf("verify and execute: %v", err)
	}
	if result.FailReason != "" {
		t.Fatalf("unexpected failure: %q", result.FailReason)
	}
	if !result.BalanceKnown || result.NewBalance != wallet.balance {
		t.Fatalf("balance = %d known=%v", result.NewBalance, result.BalanceKnown)
	}

	got, err := store.GetTransactionByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if got.Status != repo.TxCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.ProviderTxID == nil || *got.ProviderTxID != "prov-1" {
		t.Fatalf("provider id = %v", got.ProviderTxID)
	}
	if got.ChainHash == nil || *got.ChainHash != "hash-1" {
		t.Fatalf("chain hash = %v", got.ChainHash)
	}
	if user.SessionState != repo.SessionNone {
		t.Fatal("session not cleared after execution")
	}
}

func TestVerifyAndExecuteWrongCodeKeepsSession(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeWallet{balance: 1_000_000, fee: 500, sendResult: &bitnob.SendResult{ID: "prov-1"}}
	messenger := &fakeMessenger{}
	mgr, _, user := newTestManager(t, wallet, messenger)

	if _, err := mgr.Initiate(ctx, user, testAddress, 100_000); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := mgr.RequestAuthorization(ctx, user); err != nil {
		t.Fatalf("request authorization: %v", err)
	}

	wrong := "000000"
	if wrong == messenger.lastOTP {
		wrong = "000001"
	}
	_, err := mgr.VerifyAndExecute(ctx, user, wrong)
	var mismatch *otp.MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("wrong code error = %v, want MismatchError", err)
	}
	if user.SessionState != repo.SessionAwaitingOTP {
		t.Fatal("session cleared on wrong code; retry should be possible")
	}
	if wallet.sendCalls != 0 {
		t.Fatal("send reached the provider despite failed verification")
	}

	// The right code still works after a miss.
	result, err := mgr.VerifyAndExecute(ctx, user, messenger.lastOTP)
	if err != nil {
		t.Fatalf("verify with correct code: %v", err)
	}
	if result.FailReason != "" {
		t.Fatalf("unexpected failure: %q", result.FailReason)
	}
}

func TestVerifyAndExecuteProviderFailure(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeWallet{balance: 1_000_000, fee: 500, sendErr: bitnob.ErrInsufficientFunds}
	messenger := &fakeMessenger{}
	mgr, store, user := newTestManager(t, wallet, messenger)

	tx, err := mgr.Initiate(ctx, user, testAddress, 100_000)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := mgr.RequestAuthorization(ctx, user); err != nil {
		t.Fatalf("request authorization: %v", err)
	}

	result, err := mgr.VerifyAndExecute(ctx, user, messenger.lastOTP)
	if err != nil {
		t.Fatalf("verify and execute: %v", err)
	}
	if result.FailReason != "Insufficient funds to complete the transaction." {
		t.Fatalf("fail reason = %q", result.FailReason)
	}

	got, err := store.GetTransactionByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if got.Status != repo.TxFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if user.SessionState != repo.SessionNone {
		t.Fatal("session not cleared after provider failure")
	}
}

func creditEvent(id, address string, sats int64) bitnob.Event {
	raw, _ := json.Marshal(map[string]any{"event": bitnob.EventWalletCredited})
	return bitnob.Event{
		Type: bitnob.EventWalletCredited,
		Data: bitnob.EventData{ID: id, Address: address, Satoshis: sats, TxHash: "hash-c"},
		Raw:  raw,
	}
}

func TestHandleBitnobEventSuccessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	wallet := &fakeWallet{balance: 1_000_000, fee: 500}
	messenger := &fakeMessenger{}
	mgr, store, user := newTestManager(t, wallet, messenger)

	tx, err := mgr.Initiate(ctx, user, testAddress, 100_000)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := store.MarkTransactionProcessing(ctx, tx.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	event := bitnob.Event{
		Type: bitnob.EventTransactionSuccess,
		Data: bitnob.EventData{Reference: tx.Reference, TxHash: "hash-1"},
		Raw:  []byte(`{"event":"transaction.success"}`),
	}
	if err := mgr.HandleBitnobEvent(ctx, event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	got, err := store.GetTransactionByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if got.Status != repo.TxCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if len(messenger.messages) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(messenger.messages))
	}

	// Replayed delivery changes nothing and notifies nobody twice.
	if err := mgr.HandleBitnobEvent(ctx, event); err != nil {
		t.Fatalf("replay event: %v", err)
	}
	if len(messenger.messages) != 1 {
		t.Fatalf("replay sent another notification")
	}
}

func TestHandleBitnobEventUnknownTransaction(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t, &fakeWallet{balance: 1_000_000}, &fakeMessenger{})

	event := bitnob.Event{
		Type: bitnob.EventTransactionFailed,
		Data: bitnob.EventData{Reference: "TXN-UNKNOWN"},
		Raw:  []byte(`{"event":"transaction.failed"}`),
	}
	if err := mgr.HandleBitnobEvent(ctx, event); err != nil {
		t.Fatalf("unknown transaction should be absorbed: %v", err)
	}
}

func TestHandleBitnobEventWalletCredited(t *testing.T) {
	ctx := context.Background()
	messenger := &fakeMessenger{}
	mgr, store, user := newTestManager(t, &fakeWallet{balance: 1_000_000}, messenger)

	event := creditEvent("credit-1", *user.BitcoinAddress, 50_000)
	if err := mgr.HandleBitnobEvent(ctx, event); err != nil {
		t.Fatalf("handle credit: %v", err)
	}

	tx, err := store.GetTransactionByProviderID(ctx, "credit-1")
	if err != nil {
		t.Fatalf("get deposit: %v", err)
	}
	if tx.Type != repo.TxTypeReceive || tx.Status != repo.TxCompleted {
		t.Fatalf("deposit type=%q status=%q", tx.Type, tx.Status)
	}
	if tx.AmountSats != 50_000 {
		t.Fatalf("deposit amount = %d", tx.AmountSats)
	}
	if len(messenger.messages) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(messenger.messages))
	}

	// Replayed credit is deduped by provider transaction id.
	if err := mgr.HandleBitnobEvent(ctx, event); err != nil {
		t.Fatalf("replay credit: %v", err)
	}
	list, err := store.ListUserTransactions(ctx, user.ID, 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("deposit recorded %d times, want 1", len(list))
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	mgr, store, user := newTestManager(t, &fakeWallet{balance: 1_000_000}, &fakeMessenger{})

	past := time.Now().UTC().Add(-time.Minute)
	user.IsLocked = true
	user.LockedUntil = &past
	if err := store.UpdateUser(ctx, user); err != nil {
		t.Fatalf("update user: %v", err)
	}
	stale := &repo.OTP{
		UserID:      user.ID,
		Code:        "123456",
		Purpose:     otp.PurposeTransaction,
		ExpiresAt:   past,
		MaxAttempts: 3,
	}
	if err := store.CreateOTP(ctx, stale); err != nil {
		t.Fatalf("create otp: %v", err)
	}

	unlocked, removed, err := mgr.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if unlocked != 1 {
		t.Fatalf("unlocked %d accounts, want 1", unlocked)
	}
	if removed != 1 {
		t.Fatalf("removed %d codes, want 1", removed)
	}
}
