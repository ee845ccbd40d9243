// Package seeder publishes synthetic pipeline events for local testing.
package seeder

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/resulthub/internal/models"
)

type pluginSpec struct {
	id       string
	typ      string
	version  string
	dataType string
}

var plugins = []pluginSpec{
	{id: "XDS", typ: "INDEX", version: "2.0.0", dataType: "MX"},
	{id: "XDS", typ: "INDEX+STRATEGY", version: "2.0.0", dataType: "MX"},
	{id: "AIMLESS", typ: "INTEGRATE", version: "1.1.0", dataType: "MX"},
	{id: "ANALYSIS", typ: "ANALYSIS", version: "1.0.0", dataType: "MX"},
}

var spacegroups = []string{"P 1", "P 21 21 21", "C 2", "P 43 21 2", "I 41 2 2", "P 61 2 2"}

// GenerateEvent builds one pipeline event for session. Roughly half of the
// events reference a second image.
func GenerateEvent(session string) models.Record {
	p := plugins[rand.Intn(len(plugins))]
	resultID := gofakeit.UUID()

	process := map[string]interface{}{
		"session_id": session,
		"result_id":  resultID,
		"image1_id":  gofakeit.UUID(),
		"status":     rand.Intn(101),
		"repr":       fmt.Sprintf("%s_%d.cbf", gofakeit.Word(), gofakeit.Number(1, 999)),
	}
	if rand.Intn(2) == 0 {
		process["image2_id"] = gofakeit.UUID()
	}
	if rand.Intn(4) == 0 {
		process["parent_id"] = gofakeit.UUID()
	}

	return models.Record{
		"_id":     gofakeit.UUID(),
		"process": process,
		"plugin": map[string]interface{}{
			"id":        p.id,
			"type":      p.typ,
			"version":   p.version,
			"data_type": p.dataType,
		},
		"results": map[string]interface{}{
			"spacegroup": gofakeit.RandomString(spacegroups),
			"resolution": gofakeit.Float64Range(0.8, 4.0),
			"mosaicity":  gofakeit.Float64Range(0.05, 1.2),
			"created":    time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// Heartbeat builds the ECHO control event.
func Heartbeat() models.Record {
	return models.Record{"command": models.CommandEcho}
}
