package proxy

import (
	"github.com/rs/zerolog"

	"github.com/cloudpaste/cloudpaste/pkg/logging"
)

// Decision is the outcome of one proxy request's access check.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// AuditRecord is the structured record every proxy request emits (§4.5).
type AuditRecord struct {
	ReqID             string   `json:"reqId"`
	Path              string   `json:"path"`
	Decision          Decision `json:"decision"`
	Reason            string   `json:"reason,omitempty"`
	SignatureRequired bool     `json:"signatureRequired"`
	SignatureProvided bool     `json:"signatureProvided"`
	MountID           string   `json:"mountId"`
	Ts                int64    `json:"ts"`
}

func logAudit(rec AuditRecord) {
	logger := logging.WithComponent("proxy")
	var evt *zerolog.Event
	if rec.Decision == DecisionDeny {
		evt = logger.Warn()
	} else {
		evt = logger.Info()
	}
	evt.
		Str("reqId", rec.ReqID).
		Str("path", rec.Path).
		Str("decision", string(rec.Decision)).
		Str("reason", rec.Reason).
		Bool("signatureRequired", rec.SignatureRequired).
		Bool("signatureProvided", rec.SignatureProvided).
		Str("mountId", rec.MountID).
		Int64("ts", rec.Ts).
		Msg("proxy request")
}
