package intent

import "testing"

func TestClassifyConfirmCancelTokens(t *testing.T) {
	cases := map[string]Intent{
		"yes":     Confirm,
		"YES":     Confirm,
		" ok ":    Confirm,
		"confirm": Confirm,
		"no":      Cancel,
		"No":      Cancel,
		"cancel":  Cancel,
		"stop":    Cancel,
	}
	for text, want := range cases {
		if got := Classify(text); got != want {
			t.Fatalf("Classify(%q) = %s, want %s", text, got, want)
		}
	}
}

func TestClassifyCancelRequiresExactToken(t *testing.T) {
	// "no" embedded in another word must not read as a cancel.
	if got := Classify("I know about bitcoin"); got == Cancel {
		t.Fatalf("Classify matched cancel inside 'know'")
	}
	if got := Classify("nothing works"); got == Cancel {
		t.Fatalf("Classify matched cancel inside 'nothing'")
	}
}

func TestClassifyCommands(t *testing.T) {
	cases := map[string]Intent{
		"hello":                       Greeting,
		"Hi there":                    Greeting,
		"Send 0.001 BTC to bc1abc":    Send,
		"balance":                     Balance,
		"what is my balance?":         Balance,
		"history":                     History,
		"show my address":             Address,
		"help":                        Help,
		"483920":                      OTP,
		"Alice Wanjiku":               NameInput,
		"alice@example.com":           EmailInput,
		"qwerty12345":                 Unknown,
		"":                            Unknown,
	}
	for text, want := range cases {
		if got := Classify(text); got != want {
			t.Fatalf("Classify(%q) = %s, want %s", text, got, want)
		}
	}
}

func TestClassifyPriorityConfirmOverName(t *testing.T) {
	// A bare confirm token wins even though it could be part of a name.
	if got := Classify("ok"); got != Confirm {
		t.Fatalf("Classify(ok) = %s, want confirm", got)
	}
}

func TestStripSandboxPrefix(t *testing.T) {
	if got := StripSandboxPrefix("join sunny-cat balance"); got != "balance" {
		t.Fatalf("StripSandboxPrefix = %q, want %q", got, "balance")
	}
	if got := StripSandboxPrefix("Join Sunny-Cat balance"); got != "balance" {
		t.Fatalf("StripSandboxPrefix cased = %q, want %q", got, "balance")
	}
	if got := Classify("join sunny-cat balance"); got != Balance {
		t.Fatalf("Classify with sandbox prefix = %s, want balance", got)
	}
	// No sandbox framing: text passes through untouched.
	if got := StripSandboxPrefix("send 0.001 btc"); got != "send 0.001 btc" {
		t.Fatalf("StripSandboxPrefix altered plain text: %q", got)
	}
}
