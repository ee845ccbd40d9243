// Package translator maps decoded broadcast events to outbound envelopes.
package translator

import (
	"context"
	"time"

	"github.com/telhawk-systems/resulthub/internal/models"
)

// Enricher inlines related records into a detail record.
type Enricher interface {
	Attach(ctx context.Context, rec models.Record, refs models.Refs) models.Record
}

// Translator builds the envelopes for one event.
type Translator struct {
	enricher Enricher
	now      func() time.Time
}

func New(enricher Enricher) *Translator {
	return &Translator{enricher: enricher, now: time.Now}
}

// Translate returns the summary envelope followed by the detail envelope.
// The detail carries the full original payload plus image1/image2 where they
// resolved; a failed lookup only omits its field.
func (t *Translator) Translate(ctx context.Context, ev *models.Event) []models.Envelope {
	summary := models.ResultsEnvelope([]models.Summary{models.NewSummary(ev, t.now())})

	detail := ev.Raw
	if detail == nil {
		detail = models.Record{}
	}
	detail = t.enricher.Attach(ctx, detail, ev.Refs())

	return []models.Envelope{summary, models.DetailEnvelope(detail)}
}
