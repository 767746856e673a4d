package wind

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/getsentry/sentry-go"
)

// Alerter reports Session and Fatal class failures to operators beyond
// the structured log stream: an optional error-tracking sink, and an
// optional plain email send, mirroring the distilled spec's
// "email-on-error" glue.
type Alerter struct {
	sentryEnabled  bool
	emailRecipient string
	smtpAddr       string
	smtpFrom       string
}

// NewAlerter initializes sentry-go if dsn is non-empty. smtpAddr/smtpFrom
// are only used if emailRecipient is also set.
func NewAlerter(dsn, emailRecipient, smtpAddr, smtpFrom string) (*Alerter, error) {
	a := &Alerter{emailRecipient: emailRecipient, smtpAddr: smtpAddr, smtpFrom: smtpFrom}
	if dsn == "" {
		return a, nil
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
		return nil, errors.Wrap(err, "alert: init sentry")
	}
	a.sentryEnabled = true
	return a, nil
}

// ReportSessionFailure alerts on a Session or Fatal class error for
// dsTime's session.
func (a *Alerter) ReportSessionFailure(dsTime DatasetTime, err error) {
	if a == nil || err == nil {
		return
	}

	if a.sentryEnabled {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("dataset_time", dsTime.String())
			sentry.CaptureException(err)
		})
		sentry.Flush(2 * time.Second)
	}

	if a.emailRecipient != "" && a.smtpAddr != "" {
		if sendErr := a.sendEmail(dsTime, err); sendErr != nil {
			// Alerting must never mask the original failure; log and move on.
			fmt.Printf("gfsdl: failed to send failure email: %v\n", sendErr)
		}
	}
}

func (a *Alerter) sendEmail(dsTime DatasetTime, failure error) error {
	subject := fmt.Sprintf("gfsdl: session for %s failed", dsTime.String())
	body := fmt.Sprintf("Subject: %s\r\n\r\n%+v\r\n", subject, failure)
	return smtp.SendMail(a.smtpAddr, nil, a.smtpFrom, []string{a.emailRecipient}, []byte(body))
}
