package translator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/resulthub/internal/enricher"
	"github.com/telhawk-systems/resulthub/internal/models"
	"github.com/telhawk-systems/resulthub/internal/store"
)

func newTranslator(t *testing.T) *Translator {
	t.Helper()
	images := store.NewMemoryStore()
	images.PutImage(models.Record{"_id": "IMG1", "fullname": "/data/img_001.cbf"})
	images.PutImage(models.Record{"_id": "IMG2", "fullname": "/data/img_090.cbf"})

	tr := New(enricher.New(images, nil))
	tr.now = func() time.Time { return time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC) }
	return tr
}

func decode(t *testing.T, payload string) *models.Event {
	t.Helper()
	ev, err := models.DecodeEvent([]byte(payload))
	require.NoError(t, err)
	return ev
}

func marshal(t *testing.T, env models.Envelope) string {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return string(data)
}

func TestTranslate_SummaryThenDetail(t *testing.T) {
	tr := newTranslator(t)
	ev := decode(t, `{"_id":"E1","process":{"session_id":"S1","status":50},"plugin":{"id":"p1","type":"index","version":"1.0","data_type":"MX"}}`)

	envs := tr.Translate(context.Background(), ev)
	require.Len(t, envs, 2)

	assert.JSONEq(t, `{"msg_type":"results","results":[{
		"data_type":"mx","plugin_id":"p1","plugin_type":"index","plugin_version":"1.0",
		"projects":[],"result_id":"E1","session_id":"S1","status":50,
		"timestamp":"2024-05-01T08:30:00Z"}]}`, marshal(t, envs[0]))

	assert.Equal(t, models.MsgTypeResultDetails, envs[1].MsgType)
	require.NotNil(t, envs[1].Success)
	assert.True(t, *envs[1].Success)
	detail := envs[1].Results.(models.Record)
	assert.Equal(t, "E1", detail["_id"])
	assert.NotContains(t, detail, "image1")
}

func TestTranslate_Enrichment(t *testing.T) {
	tr := newTranslator(t)

	tests := []struct {
		name       string
		process    string
		wantImage1 bool
		wantImage2 bool
	}{
		{"both resolve", `{"session_id":"S1","image1_id":"IMG1","image2_id":"IMG2"}`, true, true},
		{"first missing drops second", `{"session_id":"S1","image1_id":"NOPE","image2_id":"IMG2"}`, false, false},
		{"second missing", `{"session_id":"S1","image1_id":"IMG1","image2_id":"NOPE"}`, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := decode(t, `{"_id":"E1","process":`+tt.process+`,"plugin":{"id":"p1","type":"index","version":"1.0","data_type":"mx"}}`)
			envs := tr.Translate(context.Background(), ev)
			require.Len(t, envs, 2)

			detail := envs[1].Results.(models.Record)
			assert.True(t, *envs[1].Success)
			_, has1 := detail["image1"]
			_, has2 := detail["image2"]
			assert.Equal(t, tt.wantImage1, has1)
			assert.Equal(t, tt.wantImage2, has2)
			if has2 {
				assert.Equal(t, "IMG2", detail["image2"].(models.Record)["_id"])
			}
		})
	}
}

func TestTranslate_DoesNotMutateEvent(t *testing.T) {
	tr := newTranslator(t)
	ev := decode(t, `{"_id":"E1","process":{"session_id":"S1","image1_id":"IMG1"},"plugin":{}}`)

	tr.Translate(context.Background(), ev)
	assert.NotContains(t, ev.Raw, "image1")
}
