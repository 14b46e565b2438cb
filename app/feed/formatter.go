package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const messageSeparator = "===================================="

type Formatter struct{}

func NewFormatter() *Formatter {
	return &Formatter{}
}

// Run renders an announcement as a Discord markdown message.
func (f *Formatter) Run(announcement Announcement) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**%s** | %s\n\n%s\n", announcement.IssuerCode, announcement.CreatedAt, announcement.Title)

	if len(announcement.Attachments) > 0 {
		b.WriteString("\n**Files:**\n")
		for _, attachment := range announcement.Attachments {
			if attachment.URL != "" {
				fmt.Fprintf(&b, "• [%s](%s)\n", attachment.Filename, attachment.URL)
			} else {
				fmt.Fprintf(&b, "• %s\n", attachment.Filename)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(messageSeparator + "\n")
	return b.String()
}

// MessageHash is the ledger key for a delivered message. Identical logical
// announcements produce identical hashes across runs.
func MessageHash(issuerCode, title, message, createdAt string) string {
	key := fmt.Sprintf("%s|%s|%s|%s",
		strings.ToUpper(strings.TrimSpace(issuerCode)),
		strings.TrimSpace(title),
		strings.TrimSpace(message),
		strings.TrimSpace(createdAt))

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
