package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender writes each notification as a structured log line. It stands in
// for the real mail dispatcher in development and tests.
type LogSender struct {
	log *logrus.Logger
}

func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SignerInvited(_ context.Context, signer Party, signingURL, message string) {
	s.log.WithFields(logrus.Fields{
		"notification": "signer_invited",
		"to":           signer.Email,
		"signing_url":  signingURL,
		"message":      message,
	}).Info("notification dispatched")
}

func (s *LogSender) SignerConfirmed(_ context.Context, signer Party) {
	s.log.WithFields(logrus.Fields{
		"notification": "signer_confirmed",
		"to":           signer.Email,
	}).Info("notification dispatched")
}

func (s *LogSender) ProgressUpdate(_ context.Context, initiator Party, contractTitle string, signedCount, total int) {
	s.log.WithFields(logrus.Fields{
		"notification": "progress_update",
		"to":           initiator.Email,
		"contract":     contractTitle,
		"signed":       signedCount,
		"total":        total,
	}).Info("notification dispatched")
}

func (s *LogSender) Cancelled(_ context.Context, signer Party, contractTitle string) {
	s.log.WithFields(logrus.Fields{
		"notification": "cancelled",
		"to":           signer.Email,
		"contract":     contractTitle,
	}).Info("notification dispatched")
}

func (s *LogSender) Completed(_ context.Context, recipient Party, contractTitle string) {
	s.log.WithFields(logrus.Fields{
		"notification": "completed",
		"to":           recipient.Email,
		"contract":     contractTitle,
	}).Info("notification dispatched")
}

func (s *LogSender) DeclineEscalation(_ context.Context, initiator Party, signer Party, contractTitle string) {
	s.log.WithFields(logrus.Fields{
		"notification": "decline_escalation",
		"to":           initiator.Email,
		"signer":       signer.Email,
		"contract":     contractTitle,
	}).Info("notification dispatched")
}
