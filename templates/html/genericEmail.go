package templates

import (
	"fmt"
	"html"
	"strings"
)

// RenderGenericEmail wraps plain text in the Civix mail layout.
// bodyContent is HTML-escaped and newlines become <br> tags.
func RenderGenericEmail(subject, bodyContent string) string {
	escaped := html.EscapeString(bodyContent)
	return renderLayout(subject, strings.ReplaceAll(escaped, "\n", "<br>"))
}

// RenderStatusUpdateEmail tells a reporter their issue moved to a new status
func RenderStatusUpdateEmail(title, complaintID, status, remarks string) string {
	body := fmt.Sprintf(`<p>Your issue <strong>%s</strong> is now <strong>%s</strong>.</p>
      <p class="muted">Reference: %s</p>`,
		html.EscapeString(title), html.EscapeString(status), html.EscapeString(complaintID))
	if remarks != "" {
		body += fmt.Sprintf("\n      <p>Remarks: %s</p>", html.EscapeString(remarks))
	}
	return renderLayout("Civix - Issue Status Update", body)
}

// RenderIssueUpdatedEmail tells a reporter their issue details were edited
func RenderIssueUpdatedEmail(title, complaintID string) string {
	body := fmt.Sprintf(`<p>Your issue <strong>%s</strong> has been updated.</p>
      <p class="muted">Reference: %s</p>`,
		html.EscapeString(title), html.EscapeString(complaintID))
	return renderLayout("Civix - Issue Updated", body)
}

func renderLayout(subject, body string) string {
	safeSubject := html.EscapeString(subject)

	return fmt.Sprintf(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <meta http-equiv="Content-Type" content="text/html; charset=utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1, minimum-scale=1, maximum-scale=1">
  <title>%s</title>
  <style type="text/css">
    body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 0; background-color: #f3f6f4; }
    .container { max-width: 600px; margin: 0 auto; background-color: #ffffff; }
    .header { background: linear-gradient(135deg, #10b981 0%%, #047857 100%%); padding: 36px 30px; text-align: center; }
    .header h1 { color: #fff; margin: 0; font-size: 22px; font-weight: 700; }
    .content { padding: 36px 30px; color: #1f2937; line-height: 1.6; font-size: 15px; }
    .muted { color: #6b7280; font-size: 13px; }
    .footer { padding: 24px; text-align: center; color: #6b7280; font-size: 12px; border-top: 1px solid #e5e7eb; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>%s</h1>
    </div>
    <div class="content">
      %s
    </div>
    <div class="footer">
      <p>Civix | Building better cities together</p>
    </div>
  </div>
</body>
</html>`, safeSubject, safeSubject, body)
}
