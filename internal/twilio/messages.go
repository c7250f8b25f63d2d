package twilio

import "fmt"

// WhatsApp reply bodies. Amounts arrive pre-formatted as BTC strings.

func WelcomeMessage() string {
	return `🚀 *Welcome to SatChat!*

Bitcoin in your pocket, on WhatsApp.

I can help you:
• 🏦 Create a Bitcoin wallet
• 💸 Send Bitcoin to anyone
• 📥 Receive Bitcoin payments
• 💰 Check your balance
• 📊 View transaction history

Ready to get started? Reply *YES* to create your account or *HELP* for assistance.`
}

func AccountCreatedMessage(bitcoinAddress, balance string) string {
	return fmt.Sprintf(`✅ *Account Created Successfully!*

Your Bitcoin wallet is ready:
🔗 Address: `+"`%s`"+`
💰 Balance: %s BTC

You can now:
• Send BTC: "Send 0.001 BTC to [address]"
• Check balance: "Balance"
• Get help: "Help"

*Your wallet is secured with OTP verification for all transactions.*`, bitcoinAddress, balance)
}

func TransactionConfirmationMessage(amount, address, reference, fee string) string {
	feeText := ""
	if fee != "" {
		feeText = fmt.Sprintf("\n💳 Network Fee: %s BTC", fee)
	}
	return fmt.Sprintf(`🔐 *Transaction Confirmation*

You are about to send:
💰 Amount: %s BTC
🔗 Address: `+"`%s`"+`
📋 Reference: %s%s

⚠️ Please verify the details carefully.

Reply *YES* to confirm or *NO* to cancel.`, amount, address, reference, feeText)
}

func OTPPromptMessage() string {
	return `🔐 *Security Verification Required*

An OTP has been sent to authorize this transaction.

Please enter the 6-digit code to proceed.

⏰ Code expires in 5 minutes`
}

func FormatOTPMessage(code, purpose string) string {
	purposeText := map[string]string{
		"transaction":  "transaction authorization",
		"registration": "account registration",
		"login":        "login verification",
	}[purpose]
	if purposeText == "" {
		purposeText = "verification"
	}
	return fmt.Sprintf(`🔐 SatChat Security Code

Your %s code is: *%s*

⚠️ This code expires in 5 minutes
⚠️ Do not share this code with anyone

Need help? Reply HELP`, purposeText, code)
}

func TransactionSuccessMessage(amount, reference, newBalance, txHash string) string {
	hashText := ""
	if txHash != "" {
		hashText = fmt.Sprintf("\n🔗 Blockchain: `%s`", txHash)
	}
	return fmt.Sprintf(`✅ *Transaction Successful!*

💰 Sent: %s BTC
📋 Reference: %s
💳 New Balance: %s BTC%s

Transaction completed successfully! 🎉`, amount, reference, newBalance, hashText)
}

func TransactionFailedMessage(reason string) string {
	return fmt.Sprintf(`❌ *Transaction Failed*

%s

Please try again or contact support if the issue persists.

Need help? Reply *HELP*`, reason)
}

// BalanceMessage renders the balance reply. fiat is an optional pre-formatted
// value line such as "642.50 USD"; empty omits it.
func BalanceMessage(balance, fiat, address string) string {
	value := ""
	if fiat != "" {
		value = fmt.Sprintf("\nValue: ≈ %s", fiat)
	}
	return fmt.Sprintf(`💰 *Your Bitcoin Balance*

Balance: %s BTC%s
Address: `+"`%s`"+`

To receive Bitcoin, share your address with the sender.
To send Bitcoin, use: "Send [amount] BTC to [address]"`, balance, value, address)
}

func AddressMessage(address string) string {
	return fmt.Sprintf(`🔗 *Your Bitcoin Address*

`+"`%s`"+`

Share this address to receive Bitcoin payments.

⚠️ Only send Bitcoin (BTC) to this address.
⚠️ Double-check the address before sharing.`, address)
}

func DepositReceivedMessage(amount, reference string) string {
	return fmt.Sprintf(`📥 *Bitcoin Received!*

💰 Amount: %s BTC
📋 Reference: %s

The funds are available in your wallet. Reply *BALANCE* to check.`, amount, reference)
}

func HelpMessage() string {
	return `🆘 *SatChat Help*

*Available Commands:*
• Send 0.001 BTC to [address] - Send Bitcoin
• Balance - Check your balance
• History - View recent transactions
• Address - Get your Bitcoin address
• Help - Show this help message

*Transaction Security:*
• All transactions require OTP verification
• OTPs expire in 5 minutes
• Never share your OTP with anyone

*Need Support?*
Contact us at support@satchat.io`
}

func ErrorMessage(message string) string {
	if message == "" {
		message = "Something went wrong"
	}
	return fmt.Sprintf(`⚠️ *Error*

%s

Please try again or reply *HELP* for assistance.`, message)
}

func InvalidCommandMessage() string {
	return `❓ *Invalid Command*

I didn't understand that command.

Try:
• "Balance" - Check your balance
• "Send 0.001 BTC to [address]" - Send Bitcoin
• "Help" - Get help

Reply *HELP* for more options.`
}
