package ark

import (
	"context"

	"github.com/minqiao/notepress-backend/pkg/errors"
)

const (
	noteCreatePath = "/web_api/sns/v2/note"

	noteTypeVideo = "video"

	// Literal envelope fields the platform expects verbatim on every
	// video note.
	noteSourceLiteral        = `{"type":"web","ids":"","extraInfo":"{\"systemId\":\"ark\"}"}`
	noteBusinessBindsLiteral = `{"version":1,"noteId":0,"bizType":0,"noteOrderBind":{},"notePostTiming":{},"noteCollectionBind":{"id":""}}`

	videoPreviewFullVertical = "full_vertical_screen"
)

type NoteHashTag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Link string `json:"link"`
	Type string `json:"type"`
}

type NoteBizRelation struct {
	BizType   string `json:"biz_type"`
	BizID     string `json:"biz_id"`
	ExtraInfo string `json:"extra_info"`
}

type notePrivacyInfo struct {
	OpType int `json:"op_type"`
	Type   int `json:"type"`
}

type noteGoodsInfo struct {
	Extension struct {
		LivePreheat string `json:"live_preheat"`
	} `json:"extension"`
}

type noteCommon struct {
	Type          string            `json:"type"`
	NoteID        string            `json:"note_id"`
	Source        string            `json:"source"`
	Title         string            `json:"title"`
	Desc          string            `json:"desc"`
	Ats           []any             `json:"ats"`
	HashTag       []NoteHashTag     `json:"hash_tag"`
	BusinessBinds string            `json:"business_binds"`
	PrivacyInfo   notePrivacyInfo   `json:"privacy_info"`
	GoodsInfo     noteGoodsInfo     `json:"goods_info"`
	BizRelations  []NoteBizRelation `json:"biz_relations"`
}

type VideoStreamMeta struct {
	Bitrate                 int    `json:"bitrate"`
	ColourPrimaries         string `json:"colour_primaries"`
	Duration                int    `json:"duration"`
	Format                  string `json:"format"`
	FrameRate               int    `json:"frame_rate"`
	Height                  int    `json:"height"`
	MatrixCoefficients      string `json:"matrix_coefficients"`
	Rotation                int    `json:"rotation"`
	TransferCharacteristics string `json:"transfer_characteristics"`
	Width                   int    `json:"width"`
}

type AudioStreamMeta struct {
	Bitrate      int    `json:"bitrate"`
	Channels     int    `json:"channels"`
	Duration     int    `json:"duration"`
	Format       string `json:"format"`
	SamplingRate int    `json:"sampling_rate"`
}

type CompositeMetadata struct {
	Video VideoStreamMeta `json:"video"`
	Audio AudioStreamMeta `json:"audio"`
}

type noteCoverFrame struct {
	TS           int  `json:"ts"`
	IsUserSelect bool `json:"is_user_select"`
	IsUpload     bool `json:"is_upload"`
}

type noteCover struct {
	FileID      string         `json:"fileid"`
	FileIDAlias string         `json:"file_id"`
	Height      int            `json:"height"`
	Width       int            `json:"width"`
	Frame       noteCoverFrame `json:"frame"`
}

type noteSegmentItem struct {
	Mute             int               `json:"mute"`
	Speed            int               `json:"speed"`
	Start            int               `json:"start"`
	Duration         float64           `json:"duration"`
	Transcoded       int               `json:"transcoded"`
	MediaSource      int               `json:"media_source"`
	OriginalMetadata CompositeMetadata `json:"original_metadata"`
}

type noteSegments struct {
	Count     int               `json:"count"`
	NeedSlice bool              `json:"need_slice"`
	Items     []noteSegmentItem `json:"items"`
}

type noteVideoInfo struct {
	FileID            string            `json:"fileid"`
	FileIDAlias       string            `json:"file_id"`
	FormatWidth       int               `json:"format_width"`
	FormatHeight      int               `json:"format_height"`
	VideoPreviewType  string            `json:"video_preview_type"`
	CompositeMetadata CompositeMetadata `json:"composite_metadata"`
	Timelines         []any             `json:"timelines"`
	Cover             noteCover         `json:"cover"`
	Chapters          []any             `json:"chapters"`
	ChapterSyncText   bool              `json:"chapter_sync_text"`
	Segments          noteSegments      `json:"segments"`
	Entrance          string            `json:"entrance"`
}

// NotePayload is the full create-note request body. Build one with
// NewNoteBuilder; the zero value is not valid.
type NotePayload struct {
	Common    noteCommon     `json:"common"`
	ImageInfo any            `json:"image_info"`
	VideoInfo *noteVideoInfo `json:"video_info"`
}

// NoteVideo carries everything the payload needs about the uploaded
// video and its cover. Durations are milliseconds.
type NoteVideo struct {
	FileID      string
	CoverFileID string
	Width       int
	Height      int
	DurationMS  int
	Format      string
	Bitrate     int
	FrameRate   int
	// ColorSpace feeds the primaries/matrix/transfer triple; BT.709
	// when empty.
	ColorSpace string

	AudioFormat       string
	AudioBitrate      int
	AudioChannels     int
	AudioDurationMS   int
	AudioSamplingRate int
}

// NoteBuilder assembles a video note payload with the platform's
// required envelope literals prefilled.
type NoteBuilder struct {
	payload NotePayload
}

func NewNoteBuilder() *NoteBuilder {
	b := &NoteBuilder{}
	b.payload.Common = noteCommon{
		Type:          noteTypeVideo,
		Source:        noteSourceLiteral,
		Ats:           []any{},
		HashTag:       []NoteHashTag{},
		BusinessBinds: noteBusinessBindsLiteral,
		PrivacyInfo:   notePrivacyInfo{OpType: 1, Type: 0},
		BizRelations:  []NoteBizRelation{},
	}
	b.payload.Common.GoodsInfo.Extension.LivePreheat = "0"
	return b
}

func (b *NoteBuilder) Title(title string) *NoteBuilder {
	b.payload.Common.Title = title
	return b
}

func (b *NoteBuilder) Description(desc string) *NoteBuilder {
	b.payload.Common.Desc = desc
	return b
}

func (b *NoteBuilder) AddHashTag(id, name, link string) *NoteBuilder {
	b.payload.Common.HashTag = append(b.payload.Common.HashTag, NoteHashTag{
		ID:   id,
		Name: name,
		Link: link,
		Type: "topic",
	})
	return b
}

func (b *NoteBuilder) AddBizRelation(bizType, bizID, extraInfo string) *NoteBuilder {
	b.payload.Common.BizRelations = append(b.payload.Common.BizRelations, NoteBizRelation{
		BizType:   bizType,
		BizID:     bizID,
		ExtraInfo: extraInfo,
	})
	return b
}

func (b *NoteBuilder) Video(v NoteVideo) *NoteBuilder {
	colorSpace := v.ColorSpace
	if colorSpace == "" {
		colorSpace = "BT.709"
	}
	meta := CompositeMetadata{
		Video: VideoStreamMeta{
			Bitrate:                 v.Bitrate,
			ColourPrimaries:         colorSpace,
			Duration:                v.DurationMS,
			Format:                  v.Format,
			FrameRate:               v.FrameRate,
			Height:                  v.Height,
			MatrixCoefficients:      colorSpace,
			Rotation:                0,
			TransferCharacteristics: colorSpace,
			Width:                   v.Width,
		},
		Audio: AudioStreamMeta{
			Bitrate:      v.AudioBitrate,
			Channels:     v.AudioChannels,
			Duration:     v.AudioDurationMS,
			Format:       v.AudioFormat,
			SamplingRate: v.AudioSamplingRate,
		},
	}
	b.payload.VideoInfo = &noteVideoInfo{
		FileID:            v.FileID,
		FileIDAlias:       v.FileID,
		FormatWidth:       v.Width,
		FormatHeight:      v.Height,
		VideoPreviewType:  videoPreviewFullVertical,
		CompositeMetadata: meta,
		Timelines:         []any{},
		Cover: noteCover{
			FileID:      v.CoverFileID,
			FileIDAlias: v.CoverFileID,
			Height:      v.Height,
			Width:       v.Width,
			// Frame zero value: first frame, system selected.
		},
		Chapters: []any{},
		Segments: noteSegments{
			Count:     1,
			NeedSlice: false,
			Items: []noteSegmentItem{{
				Mute:             0,
				Speed:            1,
				Start:            0,
				Duration:         float64(v.DurationMS) / 1000,
				Transcoded:       0,
				MediaSource:      1,
				OriginalMetadata: meta,
			}},
		},
		Entrance: "web",
	}
	return b
}

func (b *NoteBuilder) Build() (*NotePayload, error) {
	if b.payload.Common.Title == "" {
		return nil, errors.New(errors.CodeValidation, "note title is required")
	}
	if b.payload.VideoInfo == nil {
		return nil, errors.New(errors.CodeValidation, "note video info is required")
	}
	payload := b.payload
	return &payload, nil
}

// CreateNote publishes a note through the content API host and returns
// the platform-assigned note id.
func (c *Client) CreateNote(ctx context.Context, payload *NotePayload) (string, error) {
	if payload == nil {
		return "", errors.New(errors.CodeValidation, "note payload is required")
	}
	envelope, err := c.Post(ctx, c.EdithBaseURL(), noteCreatePath, payload)
	if err != nil {
		return "", err
	}
	if !envelope.Success {
		return "", errors.New(errors.CodeUpstream, "note rejected: "+envelope.Message)
	}

	var parsed struct {
		Data struct {
			ID     string `json:"id"`
			NoteID string `json:"note_id"`
		} `json:"data"`
	}
	if err := envelope.Decode(&parsed); err != nil {
		return "", err
	}
	noteID := parsed.Data.ID
	if noteID == "" {
		noteID = parsed.Data.NoteID
	}
	if noteID == "" {
		return "", errors.New(errors.CodeProtocol, "note response missing note id")
	}
	return noteID, nil
}
