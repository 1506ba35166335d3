package ark

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minqiao/notepress-backend/pkg/config"
	"github.com/minqiao/notepress-backend/pkg/errors"
)

func sampleVideo() NoteVideo {
	return NoteVideo{
		FileID:            "spectrum/file-1",
		CoverFileID:       "110/0/cover-1.jpg",
		Width:             1080,
		Height:            1920,
		DurationMS:        22867,
		Format:            "AVC",
		Bitrate:           11455306,
		FrameRate:         30,
		AudioFormat:       "AAC",
		AudioBitrate:      93918,
		AudioChannels:     2,
		AudioDurationMS:   22848,
		AudioSamplingRate: 44100,
	}
}

func TestNoteBuilderProducesPlatformShape(t *testing.T) {
	payload, err := NewNoteBuilder().
		Title("剑麻猫抓板").
		Description("耐抓不掉屑").
		AddHashTag("5c30b529", "猫咪用品分享", "").
		AddBizRelation("GOODS_SELLER_V2", "item-1", `{"goods_id":"item-1"}`).
		Video(sampleVideo()).
		Build()
	require.NoError(t, err)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))

	common, ok := doc["common"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "video", common["type"])
	assert.Equal(t, "", common["note_id"])
	assert.Equal(t, `{"type":"web","ids":"","extraInfo":"{\"systemId\":\"ark\"}"}`, common["source"])
	assert.Equal(t, `{"version":1,"noteId":0,"bizType":0,"noteOrderBind":{},"notePostTiming":{},"noteCollectionBind":{"id":""}}`, common["business_binds"])

	privacy := common["privacy_info"].(map[string]any)
	assert.Equal(t, float64(1), privacy["op_type"])
	assert.Equal(t, float64(0), privacy["type"])

	goods := common["goods_info"].(map[string]any)
	assert.Equal(t, "0", goods["extension"].(map[string]any)["live_preheat"])

	tags := common["hash_tag"].([]any)
	require.Len(t, tags, 1)
	assert.Equal(t, "topic", tags[0].(map[string]any)["type"])

	assert.Nil(t, doc["image_info"])

	video := doc["video_info"].(map[string]any)
	assert.Equal(t, "spectrum/file-1", video["fileid"])
	assert.Equal(t, "spectrum/file-1", video["file_id"])
	assert.Equal(t, "full_vertical_screen", video["video_preview_type"])
	assert.Equal(t, "web", video["entrance"])

	cover := video["cover"].(map[string]any)
	assert.Equal(t, "110/0/cover-1.jpg", cover["fileid"])
	frame := cover["frame"].(map[string]any)
	assert.Equal(t, float64(0), frame["ts"])
	assert.Equal(t, false, frame["is_user_select"])

	segments := video["segments"].(map[string]any)
	assert.Equal(t, float64(1), segments["count"])
	items := segments["items"].([]any)
	require.Len(t, items, 1)
	assert.InDelta(t, 22.867, items[0].(map[string]any)["duration"], 0.0001)

	meta := video["composite_metadata"].(map[string]any)
	assert.Equal(t, "BT.709", meta["video"].(map[string]any)["colour_primaries"])
	assert.Equal(t, float64(44100), meta["audio"].(map[string]any)["sampling_rate"])
}

func TestNoteBuilderValidatesRequiredFields(t *testing.T) {
	_, err := NewNoteBuilder().Video(sampleVideo()).Build()
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	_, err = NewNoteBuilder().Title("t").Build()
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestCreateNoteTargetsContentHost(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"success":true,"data":{"id":"note-abc"}}`)
	}))
	defer srv.Close()

	cfg := config.ArkConfig{CreatorBaseURL: "http://unused.invalid", EdithBaseURL: srv.URL}
	client := newTestClient(t, cfg, srv.Client())

	payload, err := NewNoteBuilder().Title("t").Video(sampleVideo()).Build()
	require.NoError(t, err)

	noteID, err := client.CreateNote(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "note-abc", noteID)
	assert.Equal(t, "/web_api/sns/v2/note", gotPath)
	assert.Contains(t, string(gotBody), `"entrance":"web"`)
}

func TestCreateNoteSurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"msg":"note audit failed","code":3001}`)
	}))
	defer srv.Close()

	client := newTestClient(t, config.ArkConfig{EdithBaseURL: srv.URL}, srv.Client())
	payload, err := NewNoteBuilder().Title("t").Video(sampleVideo()).Build()
	require.NoError(t, err)

	_, err = client.CreateNote(context.Background(), payload)
	require.Error(t, err)
	assert.Equal(t, errors.CodeUpstream, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "note audit failed")
}
