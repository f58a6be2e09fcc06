package delivery

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
)

var (
	textPolicy = bluemonday.StrictPolicy()

	lineBreakTags = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|h[1-6]|tr)>`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

// PlainText derives the text/plain alternative of an HTML body
func PlainText(body string) string {
	text := lineBreakTags.ReplaceAllString(body, "\n")
	text = html.UnescapeString(textPolicy.Sanitize(text))
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// WriteMIME renders msg as an RFC 5322 message: a multipart/alternative body
// (text then HTML) followed by one part per attachment.
func WriteMIME(w io.Writer, msg *Message) error {
	var h mail.Header
	h.SetDate(msg.Date)
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Name: msg.FromName, Address: msg.FromAddress}})

	to := make([]*mail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)

	if err := h.GenerateMessageID(); err != nil {
		return fmt.Errorf("failed to generate message id: %w", err)
	}
	if msg.ID != "" {
		h.Set("X-Ezmail-Message-Id", msg.ID)
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("failed to create message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create body: %w", err)
	}

	text := msg.TextBody
	if text == "" {
		text = PlainText(msg.HTMLBody)
	}
	if err := writeInline(tw, "text/plain", text); err != nil {
		return err
	}
	if msg.HTMLBody != "" {
		if err := writeInline(tw, "text/html", msg.HTMLBody); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close body: %w", err)
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(att.MimeType, nil)
		ah.SetFilename(att.Name)
		ah.Set("Content-Transfer-Encoding", "base64")

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return fmt.Errorf("failed to create attachment %q: %w", att.Name, err)
		}
		if _, err := aw.Write(att.Data); err != nil {
			return fmt.Errorf("failed to write attachment %q: %w", att.Name, err)
		}
		if err := aw.Close(); err != nil {
			return fmt.Errorf("failed to close attachment %q: %w", att.Name, err)
		}
	}

	return mw.Close()
}

func writeInline(tw *mail.InlineWriter, contentType, body string) error {
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ih.Set("Content-Transfer-Encoding", "quoted-printable")

	pw, err := tw.CreatePart(ih)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return pw.Close()
}
