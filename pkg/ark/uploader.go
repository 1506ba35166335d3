package ark

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minqiao/notepress-backend/pkg/config"
	"github.com/minqiao/notepress-backend/pkg/enums"
	"github.com/minqiao/notepress-backend/pkg/errors"
	"github.com/minqiao/notepress-backend/pkg/logger"
	"github.com/minqiao/notepress-backend/pkg/metrics"
)

const (
	permitPathFormat = "/api/media/v1/upload/creator/permits?biz_name=spectrum&file_count=1&scene=%s&source=web&version=1"

	headerSecurityToken = "X-Cos-Security-Token"

	// The storage service rejects manifests whose XML declaration deviates
	// from this exact byte sequence.
	xmlPreamble = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

	defaultChunkSize = 5 * 1024 * 1024
)

// Permit is a short-lived authorization for one asset transfer. It is never
// persisted and must not be reused across transfers.
type Permit struct {
	UploadAddr string
	Token      string
	FileID     string
	ExpireAt   time.Time
}

type permitData struct {
	UploadTempPermits []struct {
		FileIDs    []string `json:"fileIds"`
		UploadAddr string   `json:"uploadAddr"`
		Token      string   `json:"token"`
		ExpireTime int64    `json:"expireTime"`
	} `json:"uploadTempPermits"`
}

type initiateUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

type completedPart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

type completeUploadManifest struct {
	XMLName xml.Name        `xml:"CompleteMultipartUpload"`
	Parts   []completedPart `xml:"Part"`
}

type completeUploadResult struct {
	XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
	Location string   `xml:"Location"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

// Uploader drives the chunked transfer protocol against the platform's
// storage service. API calls (permits) go through the signed client; the
// binary part uploads talk to the address the permit names and carry the
// permit token instead of a signature.
type Uploader struct {
	client     *Client
	httpClient *http.Client
	chunkSize  int64
	metrics    *metrics.PipelineMetrics
	logg       *logger.Logger
}

type UploaderParams struct {
	Client  *Client
	Config  config.ArkConfig
	Metrics *metrics.PipelineMetrics
	Logger  *logger.Logger

	// HTTPClient overrides the client used for binary part uploads.
	HTTPClient *http.Client
}

func NewUploader(params UploaderParams) (*Uploader, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("uploader: client is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("uploader: logger is required")
	}
	chunkSize := params.Config.UploadChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: params.Config.RequestTimeout}
	}
	return &Uploader{
		client:     params.Client,
		httpClient: httpClient,
		chunkSize:  chunkSize,
		metrics:    params.Metrics,
		logg:       params.Logger,
	}, nil
}

// AcquirePermit reserves an upload address, token and remote file id for a
// single transfer in the given scene.
func (u *Uploader) AcquirePermit(ctx context.Context, scene enums.UploadScene) (*Permit, error) {
	path := fmt.Sprintf(permitPathFormat, scene)
	envelope, err := u.client.Get(ctx, "", path)
	if err != nil {
		return nil, err
	}
	if !envelope.Success {
		return nil, errors.New(errors.CodeUpstream, "upload permit denied: "+envelope.Message)
	}

	var parsed struct {
		Data permitData `json:"data"`
	}
	if err := envelope.Decode(&parsed); err != nil {
		return nil, err
	}
	data := parsed.Data
	if len(data.UploadTempPermits) == 0 {
		return nil, errors.New(errors.CodeProtocol, "permit response has no permits")
	}
	permit := data.UploadTempPermits[0]
	if permit.UploadAddr == "" || permit.Token == "" || len(permit.FileIDs) == 0 {
		return nil, errors.New(errors.CodeProtocol, "permit response missing address, token or file id")
	}
	return &Permit{
		UploadAddr: permit.UploadAddr,
		Token:      permit.Token,
		FileID:     permit.FileIDs[0],
		ExpireAt:   time.UnixMilli(permit.ExpireTime),
	}, nil
}

// UploadVideo streams src to the platform in chunks and returns the remote
// file id. Any stage failure aborts the transfer; the caller retries with a
// fresh call, which acquires a fresh permit.
func (u *Uploader) UploadVideo(ctx context.Context, src io.Reader) (string, error) {
	permit, err := u.AcquirePermit(ctx, enums.UploadSceneVideo)
	if err != nil {
		return "", err
	}
	ctx = u.logg.WithField(ctx, "file_id", permit.FileID)

	if err := u.listUploads(ctx, permit); err != nil {
		return "", err
	}
	uploadID, err := u.initiateUpload(ctx, permit)
	if err != nil {
		return "", err
	}
	ctx = u.logg.WithField(ctx, "upload_id", uploadID)

	parts, err := u.uploadParts(ctx, permit, uploadID, src)
	if err != nil {
		return "", err
	}
	if err := u.completeUpload(ctx, permit, uploadID, parts); err != nil {
		return "", err
	}
	u.logg.Info(u.logg.WithField(ctx, "parts", len(parts)), "video upload completed")
	return permit.FileID, nil
}

// UploadCover pushes a small payload in a single request and returns the
// remote file id. Used for note cover images.
func (u *Uploader) UploadCover(ctx context.Context, src io.Reader) (string, error) {
	permit, err := u.AcquirePermit(ctx, enums.UploadSceneImage)
	if err != nil {
		return "", err
	}

	payload, err := io.ReadAll(src)
	if err != nil {
		return "", errors.Wrap(errors.CodeTransport, err, "read cover payload")
	}

	url := uploadURL(permit, "")
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(errors.CodeInternal, err, "build cover request")
	}
	req.Header.Set(headerSecurityToken, permit.Token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.CodeTransport, err, "cover upload")
	}
	defer closeBody(resp)
	if resp.StatusCode >= 300 {
		return "", errors.New(errors.CodeProtocol, fmt.Sprintf("cover upload returned status %d", resp.StatusCode))
	}
	u.metrics.AddUploadBytes(int64(len(payload)))
	return permit.FileID, nil
}

// listUploads enumerates any existing multipart state for the file id. The
// storage service treats this as an idempotent no-op when nothing exists,
// but still requires the call before initiation.
func (u *Uploader) listUploads(ctx context.Context, permit *Permit) error {
	url := uploadURL(permit, "?uploads&prefix="+permit.FileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "build list request")
	}
	req.Header.Set(headerSecurityToken, permit.Token)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.CodeTransport, err, "list uploads")
	}
	defer closeBody(resp)
	if resp.StatusCode >= 300 {
		return errors.New(errors.CodeProtocol, fmt.Sprintf("list uploads returned status %d", resp.StatusCode))
	}
	return nil
}

func (u *Uploader) initiateUpload(ctx context.Context, permit *Permit) (string, error) {
	url := uploadURL(permit, "?uploads")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", errors.Wrap(errors.CodeInternal, err, "build initiate request")
	}
	req.Header.Set(headerSecurityToken, permit.Token)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.CodeTransport, err, "initiate upload")
	}
	defer closeBody(resp)
	if resp.StatusCode >= 300 {
		return "", errors.New(errors.CodeProtocol, fmt.Sprintf("initiate upload returned status %d", resp.StatusCode))
	}

	var result initiateUploadResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(errors.CodeProtocol, err, "decode initiate response")
	}
	if result.UploadID == "" {
		return "", errors.New(errors.CodeProtocol, "initiate response missing upload id")
	}
	return result.UploadID, nil
}

func (u *Uploader) uploadParts(ctx context.Context, permit *Permit, uploadID string, src io.Reader) ([]completedPart, error) {
	var parts []completedPart
	buf := make([]byte, u.chunkSize)
	for partNumber := 1; ; partNumber++ {
		n, err := io.ReadFull(src, buf)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, errors.Wrap(errors.CodeTransport, err, "read source chunk")
		}

		etag, putErr := u.putPart(ctx, permit, uploadID, partNumber, buf[:n])
		if putErr != nil {
			return nil, putErr
		}
		parts = append(parts, completedPart{PartNumber: partNumber, ETag: etag})
		u.metrics.AddUploadBytes(int64(n))

		if err == io.ErrUnexpectedEOF {
			break
		}
	}
	if len(parts) == 0 {
		return nil, errors.New(errors.CodeValidation, "source stream is empty")
	}
	return parts, nil
}

func (u *Uploader) putPart(ctx context.Context, permit *Permit, uploadID string, partNumber int, chunk []byte) (string, error) {
	url := uploadURL(permit, fmt.Sprintf("?partNumber=%d&uploadId=%s", partNumber, uploadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(chunk))
	if err != nil {
		return "", errors.Wrap(errors.CodeInternal, err, "build part request")
	}
	req.Header.Set(headerSecurityToken, permit.Token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.CodeTransport, err, fmt.Sprintf("upload part %d", partNumber))
	}
	defer closeBody(resp)
	if resp.StatusCode >= 300 {
		return "", errors.New(errors.CodeProtocol, fmt.Sprintf("part %d returned status %d", partNumber, resp.StatusCode))
	}
	etag := resp.Header.Get("Etag")
	if etag == "" {
		return "", errors.New(errors.CodeProtocol, fmt.Sprintf("part %d response missing etag", partNumber))
	}
	return etag, nil
}

func (u *Uploader) completeUpload(ctx context.Context, permit *Permit, uploadID string, parts []completedPart) error {
	manifest, err := xml.Marshal(completeUploadManifest{Parts: parts})
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "marshal completion manifest")
	}
	body := append([]byte(xmlPreamble), manifest...)

	url := uploadURL(permit, "?uploadId="+uploadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "build completion request")
	}
	req.Header.Set(headerSecurityToken, permit.Token)
	req.Header.Set("Content-Type", "application/xml")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.CodeTransport, err, "complete upload")
	}
	defer closeBody(resp)
	if resp.StatusCode >= 300 {
		return errors.New(errors.CodeProtocol, fmt.Sprintf("completion returned status %d", resp.StatusCode))
	}

	var result completeUploadResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return errors.Wrap(errors.CodeProtocol, err, "decode completion response")
	}
	if result.Key == "" || result.ETag == "" {
		return errors.New(errors.CodeProtocol, "completion response missing key or etag")
	}
	return nil
}

func uploadURL(permit *Permit, suffix string) string {
	addr := permit.UploadAddr
	if !strings.Contains(addr, "://") {
		addr = "https://" + addr
	}
	return strings.TrimSuffix(addr, "/") + "/" + permit.FileID + suffix
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	_ = resp.Body.Close()
}
