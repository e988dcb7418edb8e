package email

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/emersion/go-imap"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"github.com/brandon/mailsync/internal/flags"
	"github.com/brandon/mailsync/internal/optimistic"
	"github.com/brandon/mailsync/pkg/types"
)

const (
	forwardedFlag = "$Forwarded"
	importantFlag = "$Important"
	excerptLength = 160
)

// FormatID builds the item id of a message: its mailbox and UID
func FormatID(folder string, uid uint32) string {
	return folder + "/" + strconv.FormatUint(uint64(uid), 10)
}

// ParseID splits an item id at its last slash; mailbox names may contain slashes
func ParseID(id string) (folder string, uid uint32, err error) {
	i := strings.LastIndexByte(id, '/')
	if i <= 0 || i == len(id)-1 {
		return "", 0, fmt.Errorf("invalid message id %q", id)
	}
	n, err := strconv.ParseUint(id[i+1:], 10, 32)
	if err != nil || n == 0 {
		return "", 0, fmt.Errorf("invalid message id %q", id)
	}
	return id[:i], uint32(n), nil
}

// flagsFromIMAP converts IMAP system and keyword flags to a flags string
func flagsFromIMAP(imapFlags []string) string {
	out := string(flags.Unread)
	for _, f := range imapFlags {
		switch {
		case strings.EqualFold(f, imap.SeenFlag):
			out = flags.Remove(out, flags.Unread)
		case strings.EqualFold(f, imap.FlaggedFlag):
			out = flags.Add(out, flags.Flagged)
		case strings.EqualFold(f, imap.DraftFlag):
			out = flags.Add(out, flags.Draft)
		case strings.EqualFold(f, imap.AnsweredFlag):
			out = flags.Add(out, flags.Replied)
		case strings.EqualFold(f, forwardedFlag):
			out = flags.Add(out, flags.Forwarded)
		case strings.EqualFold(f, importantFlag):
			out = flags.Add(out, flags.Urgent)
		}
	}
	return flags.Normalize(out)
}

// storeFlag maps a flag-changing operation to the IMAP flag it adds or removes
func storeFlag(op optimistic.Operation) (flag string, add bool, ok bool) {
	switch op {
	case optimistic.OpFlag:
		return imap.FlaggedFlag, true, true
	case optimistic.OpUnflag:
		return imap.FlaggedFlag, false, true
	case optimistic.OpRead:
		return imap.SeenFlag, true, true
	case optimistic.OpUnread:
		return imap.SeenFlag, false, true
	case optimistic.OpUrgent:
		return importantFlag, true, true
	case optimistic.OpNotUrgent:
		return importantFlag, false, true
	}
	return "", false, false
}

func convertAddresses(list []*imap.Address, typ string) []types.Address {
	var out []types.Address
	for _, a := range list {
		if a == nil || a.MailboxName == "" {
			continue
		}
		out = append(out, types.Address{Address: a.Address(), Name: a.PersonalName, Type: typ})
	}
	return out
}

// itemFromIMAP converts a fetched message header to a MailItem
func itemFromIMAP(folder string, msg *imap.Message) types.MailItem {
	item := types.MailItem{
		ID:       FormatID(folder, msg.Uid),
		Kind:     types.KindMessage,
		FolderID: folder,
		Flags:    flagsFromIMAP(msg.Flags),
		Date:     msg.InternalDate,
	}
	if env := msg.Envelope; env != nil {
		item.Subject = env.Subject
		if !env.Date.IsZero() {
			item.Date = env.Date
		}
		item.From = convertAddresses(env.From, types.AddressFrom)
		item.To = convertAddresses(env.To, types.AddressTo)
		item.Cc = convertAddresses(env.Cc, types.AddressCc)
		item.Bcc = convertAddresses(env.Bcc, types.AddressBcc)
		item.Sender = convertAddresses(env.Sender, types.AddressSender)
		item.ConversationID = env.InReplyTo
	}
	return item
}

// applyBody parses raw RFC 5322 content into the item's body and attachments
func applyBody(item *types.MailItem, raw []byte) error {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}
	item.BodyText = env.Text
	item.BodyHTML = env.HTML
	item.Excerpt = excerpt(env.Text)

	item.Attachments = nil
	for _, part := range env.Attachments {
		item.Attachments = append(item.Attachments, types.Attachment{
			Part:        part.PartID,
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Size:        int64(len(part.Content)),
		})
	}
	item.Flags = flags.Set(item.Flags, flags.Attachment, len(item.Attachments) > 0)
	if item.Subject == "" {
		item.Subject = env.GetHeader("Subject")
	}
	return nil
}

// excerpt collapses whitespace and cuts the text to a preview
func excerpt(text string) string {
	text = strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
	r := []rune(text)
	if len(r) > excerptLength {
		return string(r[:excerptLength])
	}
	return text
}

// newMessageID returns a Message-Id in the sender's domain
func newMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndexByte(from, '@'); at >= 0 && at < len(from)-1 {
		domain = strings.TrimSuffix(from[at+1:], ">")
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}

func formatAddressList(list []types.Address) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		parts = append(parts, (&mail.Address{Name: a.Name, Address: a.Address}).String())
	}
	return strings.Join(parts, ", ")
}

// recipients lists the envelope recipients of a message
func recipients(item *types.MailItem) []string {
	var out []string
	for _, list := range [][]types.Address{item.To, item.Cc, item.Bcc} {
		for _, a := range list {
			if a.Address != "" {
				out = append(out, a.Address)
			}
		}
	}
	return out
}

// composeMessage renders item as an RFC 5322 message. Bcc is left out of the
// headers and only used for the envelope.
func composeMessage(from string, item *types.MailItem, messageID string, date time.Time) ([]byte, error) {
	var buf bytes.Buffer

	writeHeader := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", key, value)
		}
	}

	sender := from
	if addr, err := mail.ParseAddress(from); err == nil {
		sender = addr.String()
	}
	writeHeader("From", sender)
	writeHeader("To", formatAddressList(item.To))
	writeHeader("Cc", formatAddressList(item.Cc))
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", item.Subject))
	writeHeader("Date", date.Format(time.RFC1123Z))
	writeHeader("Message-Id", messageID)
	writeHeader("MIME-Version", "1.0")

	switch {
	case item.BodyText != "" && item.BodyHTML != "":
		mw := multipart.NewWriter(&buf)
		writeHeader("Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": mw.Boundary()}))
		buf.WriteString("\r\n")
		for _, part := range []struct{ typ, body string }{
			{"text/plain", item.BodyText},
			{"text/html", item.BodyHTML},
		} {
			h := textproto.MIMEHeader{}
			h.Set("Content-Type", part.typ+"; charset=utf-8")
			h.Set("Content-Transfer-Encoding", "quoted-printable")
			w, err := mw.CreatePart(h)
			if err != nil {
				return nil, err
			}
			if err := writeQuotedPrintable(w, part.body); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
	case item.BodyHTML != "":
		writeHeader("Content-Type", "text/html; charset=utf-8")
		writeHeader("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, item.BodyHTML); err != nil {
			return nil, err
		}
	default:
		writeHeader("Content-Type", "text/plain; charset=utf-8")
		writeHeader("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, item.BodyText); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writeQuotedPrintable(w io.Writer, body string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}
