package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/evatr/internal/evatr"
	"github.com/dukerupert/evatr/internal/validation"
)

// Default NATS subjects for deferred checks
const (
	SubjectVatCheck        = "evatr.checks"
	SubjectVatCheckOutcome = "evatr.checks.outcome"
	QueueVatCheck          = "evatr-workers"
)

// JobTypeVatCheck identifies deferred VAT checks in payloads and logs.
const JobTypeVatCheck = "evatr:vat_check"

// VatCheckPayload represents a deferred check on the wire (JSON-serializable).
// Records themselves never travel; workers only see their identity.
type VatCheckPayload struct {
	JobID      uuid.UUID     `json:"job_id"`
	JobType    string        `json:"job_type"`
	RecordID   string        `json:"record_id"`
	RecordType string        `json:"record_type"`
	Attribute  string        `json:"attribute"`
	Backend    evatr.Backend `json:"backend"`
	VAT        string        `json:"vat"`
	Name       string        `json:"name,omitempty"`
	City       string        `json:"city,omitempty"`
	Street     string        `json:"street,omitempty"`
	Zip        string        `json:"zip,omitempty"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// Request returns the check request carried by the payload.
func (p VatCheckPayload) Request() evatr.Request {
	return evatr.Request{
		VAT:    p.VAT,
		Name:   p.Name,
		City:   p.City,
		Street: p.Street,
		Zip:    p.Zip,
	}
}

// VatCheckOutcome is published once a deferred check finished. Codes holds
// the attribute error codes the synchronous validator would have added.
type VatCheckOutcome struct {
	JobID        uuid.UUID     `json:"job_id"`
	RecordID     string        `json:"record_id"`
	RecordType   string        `json:"record_type"`
	Attribute    string        `json:"attribute"`
	Backend      evatr.Backend `json:"backend"`
	Success      bool          `json:"success"`
	Valid        bool          `json:"valid"`
	StatusCode   string        `json:"status_code"`
	CheckedVatID string        `json:"checked_vat_id"`
	Codes        []string      `json:"codes"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Publisher is the part of *nats.Conn used to enqueue checks.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSEnqueuer publishes deferred checks to a NATS subject. It implements
// evatr.JobEnqueuer.
type NATSEnqueuer struct {
	pub     Publisher
	subject string
	now     func() time.Time
}

var _ evatr.JobEnqueuer = (*NATSEnqueuer)(nil)

// NewNATSEnqueuer creates an enqueuer publishing to subject
// (SubjectVatCheck when empty).
func NewNATSEnqueuer(pub Publisher, subject string) *NATSEnqueuer {
	if subject == "" {
		subject = SubjectVatCheck
	}
	return &NATSEnqueuer{pub: pub, subject: subject, now: time.Now}
}

// Enqueue publishes job as a VatCheckPayload.
func (e *NATSEnqueuer) Enqueue(ctx context.Context, job evatr.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload := NewVatCheckPayload(job, e.now())
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err := e.pub.Publish(e.subject, payloadJSON); err != nil {
		return fmt.Errorf("failed to publish vat check: %w", err)
	}
	return nil
}

// NewVatCheckPayload converts a job into its wire form.
func NewVatCheckPayload(job evatr.Job, enqueuedAt time.Time) VatCheckPayload {
	return VatCheckPayload{
		JobID:      uuid.New(),
		JobType:    JobTypeVatCheck,
		RecordID:   job.RecordID,
		RecordType: job.RecordType,
		Attribute:  job.Attribute,
		Backend:    job.Backend,
		VAT:        job.Request.VAT,
		Name:       job.Request.Name,
		City:       job.Request.City,
		Street:     job.Request.Street,
		Zip:        job.Request.Zip,
		EnqueuedAt: enqueuedAt,
	}
}

// ProcessVatCheckJob runs a deferred check with checker. When the checker's
// config carries a recorder and the payload names a record, the response is
// logged against it. A legacy transport error is returned; the job failed.
func ProcessVatCheckJob(ctx context.Context, payload VatCheckPayload, checker evatr.Checker, now time.Time) (*VatCheckOutcome, error) {
	result, err := checker.Check(ctx, payload.Request())
	if err != nil {
		return nil, fmt.Errorf("vat check %s failed: %w", payload.JobID, err)
	}

	if recorder := checker.Config().Recorder; recorder != nil && payload.RecordID != "" {
		entry := validation.EntryFor(payload.RecordID, payload.RecordType, result, now)
		if err := recorder.Record(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to record vat check %s: %w", payload.JobID, err)
		}
	}

	return &VatCheckOutcome{
		JobID:        payload.JobID,
		RecordID:     payload.RecordID,
		RecordType:   payload.RecordType,
		Attribute:    payload.Attribute,
		Backend:      checker.Backend(),
		Success:      result.Success(),
		Valid:        result.Valid(),
		StatusCode:   result.StatusCode(),
		CheckedVatID: result.CheckedVatID(),
		Codes:        validation.Codes(result),
		CheckedAt:    now,
	}, nil
}
