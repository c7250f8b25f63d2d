package twilio

import (
	"bytes"
	"encoding/xml"
)

// twimlResponse is the messaging TwiML document Twilio expects back from a
// webhook: one or more <Message> elements inside <Response>.
type twimlResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Messages []string `xml:"Message"`
}

// TwiML renders a reply body as a messaging TwiML document.
func TwiML(messages ...string) []byte {
	doc := twimlResponse{Messages: messages}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		// The document is a fixed struct of strings; encoding cannot fail.
		return []byte(xml.Header + "<Response></Response>")
	}
	return buf.Bytes()
}
